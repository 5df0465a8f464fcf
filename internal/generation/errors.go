// -----------------------------------------------------------------------
// Vendor error taxonomy - transient errors are retried against the job's
// retry budget, permanent errors and poll exhaustion go straight to the
// degradation ladder
// -----------------------------------------------------------------------

package generation

import (
	"errors"
	"fmt"
)

// ErrPollExhausted is returned when a bounded poll hits its attempt ceiling
var ErrPollExhausted = errors.New("poll attempt ceiling exceeded")

// VendorError describes a failed external generation call.
// Permanent errors (invalid input, unsupported content) are never retried.
// DirectURL carries the vendor's own asset URL when generation succeeded
// but a later pipeline step (storage upload) failed - the Tier-1 fallback.
type VendorError struct {
	Code      string
	Message   string
	Permanent bool
	DirectURL string
}

func (e *VendorError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("vendor error (%s, %s): %s", e.Code, kind, e.Message)
}

// NewTransientError creates a retryable vendor error (rate limit, 5xx)
func NewTransientError(code, message string) *VendorError {
	return &VendorError{Code: code, Message: message}
}

// NewPermanentError creates a non-retryable vendor error
func NewPermanentError(code, message string) *VendorError {
	return &VendorError{Code: code, Message: message, Permanent: true}
}

// IsPermanent reports whether an error should bypass the retry budget.
// Poll exhaustion is treated as permanent for retry purposes.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrPollExhausted) {
		return true
	}
	var vendorErr *VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr.Permanent
	}
	return false
}

// DirectURL extracts the Tier-1 fallback URL from an error chain, if any
func DirectURL(err error) string {
	var vendorErr *VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr.DirectURL
	}
	return ""
}

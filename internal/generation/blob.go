package generation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mirageapp/mirage/internal/interfaces"
)

// HTTPBlobStore uploads assets to an HTTP blob endpoint with PUT and
// returns the resulting public URL.
type HTTPBlobStore struct {
	baseURL string
	client  *http.Client
	logger  arbor.ILogger
}

// NewHTTPBlobStore creates a blob store client
func NewHTTPBlobStore(baseURL string, logger arbor.ILogger) interfaces.BlobStore {
	return &HTTPBlobStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
		logger:  logger,
	}
}

// Upload stores the body at key and returns the durable public URL
func (s *HTTPBlobStore) Upload(ctx context.Context, key string, contentType string, body io.Reader) (string, error) {
	url := s.baseURL + "/" + strings.TrimLeft(key, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("blob upload returned %d", resp.StatusCode)
	}

	s.logger.Debug().Str("key", key).Str("url", url).Msg("Asset uploaded")
	return url, nil
}

package narration

// DefaultModules returns the built-in education modules and their
// narration scripts. Scripts are narrated in the user's own cloned voice
// to make the lesson personal.
func DefaultModules() map[string][]Step {
	return map[string][]Step{
		"deepfake_basics": {
			{StepID: "intro", Script: "What you are about to see was made from a single photo of you. None of it is real."},
			{StepID: "face_swap", Script: "This image took under a minute to generate. Anyone with your photo can do the same."},
			{StepID: "talking_photo", Script: "Now the photo speaks. The voice you hear is a clone built from a few seconds of audio."},
			{StepID: "wrap_up", Script: "If this convinced you, it can convince your family. Agree on a code word before it matters."},
		},
		"voice_phishing": {
			{StepID: "intro", Script: "A call from a familiar voice is no longer proof of anything."},
			{StepID: "cloned_call", Script: "Listen to this call. The caller is not a person. It is your voice, asking for money."},
			{StepID: "red_flags", Script: "Urgency, secrecy, and payment by transfer are the three signs to hang up on."},
			{StepID: "wrap_up", Script: "When in doubt, hang up and call back on a number you already know."},
		},
	}
}

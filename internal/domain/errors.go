package domain

import "errors"

var (
	// Upload / decode
	ErrMalformedLog  = errors.New("malformed flight log")
	ErrLogTooLarge   = errors.New("flight log too large")
	ErrDecodeTimeout = errors.New("flight log decode timed out")

	// Sessions
	ErrSessionNotFound = errors.New("session not found")
	ErrNoDataset       = errors.New("no flight log uploaded for this session")

	// Tools
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// Language model
	ErrModelUnavailable = errors.New("language model unavailable")
	ErrModelTimeout     = errors.New("language model timed out")
	ErrModelRejected    = errors.New("language model rejected request")
)

// IsRetryable reports whether err is a transient failure that may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrModelUnavailable) ||
		errors.Is(err, ErrModelTimeout) ||
		errors.Is(err, ErrDecodeTimeout)
}

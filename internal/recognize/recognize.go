package recognize

import (
	"context"
	"encoding/base64"
	"errors"

	"billfold-backend/internal/blob"
)

// Result is what the recognition collaborator returns for an image payload.
// PageConfidence is nil when the service does not report one.
type Result struct {
	Text           string
	PageConfidence *float64
}

// Client recognizes text in an image payload. PDF payloads never reach this
// interface; their text layer is extracted locally.
type Client interface {
	Recognize(ctx context.Context, data []byte, mimeType string) (Result, error)
}

// ErrUnavailable is returned by the disabled client when no recognition
// endpoint is configured.
var ErrUnavailable = errors.New("recognition not configured")

// Disabled is a Client that always reports no recognizer. Upload staging
// treats its error as a non-fatal miss and proceeds with empty guesses.
type Disabled struct{}

// Recognize implements Client.
func (Disabled) Recognize(ctx context.Context, data []byte, mimeType string) (Result, error) {
	return Result{}, ErrUnavailable
}

// IsAuthError reports whether a recognition failure means the credential is
// unusable rather than the request merely failing.
func IsAuthError(err error) bool {
	return errors.Is(err, blob.ErrUnauthorized)
}

func encodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

package httpclient

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// maxErrorDetail bounds how much of an upstream error body is surfaced.
const maxErrorDetail = 2048

// UpstreamError represents an error returned by an upstream service
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d from %s", e.StatusCode, e.URL)
}

// Detail returns the upstream's own error message when the body is an
// OpenAI style envelope, else the raw body truncated.
func (e *UpstreamError) Detail() string {
	if gjson.ValidBytes(e.Body) {
		for _, path := range []string{"error.message", "message", "error", "detail"} {
			if v := gjson.GetBytes(e.Body, path); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}

	detail := strings.TrimSpace(string(e.Body))
	if len(detail) > maxErrorDetail {
		detail = detail[:maxErrorDetail] + "..."
	}
	return detail
}

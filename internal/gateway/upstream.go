package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const chatCompletionsPath = "/v1/chat/completions"

// UpstreamURL derives the chat completions endpoint from a base URL:
//
//	https://host        -> https://host/v1/chat/completions
//	https://host/v4/    -> https://host/v4/chat/completions
//	https://host/x/y#   -> https://host/x/y
func UpstreamURL(baseURL string) string {
	switch {
	case strings.HasSuffix(baseURL, "#"):
		return strings.TrimSuffix(baseURL, "#")
	case strings.HasSuffix(baseURL, "/"):
		return baseURL + "chat/completions"
	default:
		return baseURL + chatCompletionsPath
	}
}

// Headers never copied from the caller to the upstream.
var strippedRequestHeaders = []string{
	"Authorization",
	"Cookie",
	"Host",
	"Content-Length",
	"Accept-Encoding",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Headers never copied from the upstream response to the caller.
var strippedResponseHeaders = []string{
	"Content-Length",
	"Content-Encoding",
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Set-Cookie",
	"Trailer",
	"Upgrade",
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Credentials",
	"Access-Control-Allow-Headers",
	"Access-Control-Allow-Methods",
}

func upstreamHeaders(inbound http.Header, apiKey string, stream bool) http.Header {
	h := inbound.Clone()
	if h == nil {
		h = http.Header{}
	}
	for _, k := range strippedRequestHeaders {
		h.Del(k)
	}

	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("Content-Type", "application/json")
	if stream {
		h.Set("Accept", "text/event-stream")
	}
	return h
}

func responseHeaders(upstream http.Header) http.Header {
	h := upstream.Clone()
	if h == nil {
		h = http.Header{}
	}
	for _, k := range strippedResponseHeaders {
		h.Del(k)
	}
	return h
}

// watchdog cancels an upstream call when no progress is reported within
// timeout. A zero timeout disables it.
type watchdog struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newWatchdog(timeout time.Duration, cancel context.CancelFunc) *watchdog {
	w := &watchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.fired.Store(true)
			cancel()
		})
	}
	return w
}

// kick records progress and restarts the countdown.
func (w *watchdog) kick() {
	if w.timer != nil && !w.fired.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) expired() bool {
	return w.fired.Load()
}

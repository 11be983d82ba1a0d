package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/core/services"
	"github.com/nulzo/uniapi/internal/httpclient"
	"github.com/nulzo/uniapi/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func newForwarder(timeout time.Duration) *Forwarder {
	return NewForwarder(httpclient.NewTransportClient(), timeout, zap.NewNop())
}

func selection(baseURL string) services.Selection {
	return services.Selection{
		Entry: domain.ProviderEntry{
			ID:              "entry-a",
			APIKey:          "sk-upstream",
			BaseURL:         baseURL,
			SupportedModels: []string{"gpt-4-0613"},
			ModelMapping:    map[string]string{"gpt-4": "gpt-4-0613"},
		},
		RequestedModel: "gpt-4",
		UpstreamModel:  "gpt-4-0613",
	}
}

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.example.com", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/api/paas/v4/", "https://api.example.com/api/paas/v4/chat/completions"},
		{"https://api.example.com/custom/path#", "https://api.example.com/custom/path"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			assert.Equal(t, tt.want, UpstreamURL(tt.base))
		})
	}
}

func TestForward_RewritesModelAndKey(t *testing.T) {
	var gotPath, gotAuth, gotCookie string
	var gotBody []byte

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "up-1")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer upstream.Close()

	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer caller-token")
	inbound.Set("Cookie", "session=abc")
	inbound.Set("OpenAI-Organization", "org-1")

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hello"}],"temperature":0.2}`)
	resp, err := newForwarder(time.Second).Forward(context.Background(), selection(upstream.URL), inbound, body, false)
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-upstream", gotAuth)
	assert.Empty(t, gotCookie)
	assert.Equal(t, "gpt-4-0613", gjson.GetBytes(gotBody, "model").String())
	assert.Equal(t, "hello", gjson.GetBytes(gotBody, "messages.0.content").String())
	assert.Equal(t, 0.2, gjson.GetBytes(gotBody, "temperature").Float())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, resp.Stream)
	assert.JSONEq(t, `{"id":"chatcmpl-1","choices":[{"message":{"content":"hi"}}]}`, string(resp.Body))
	assert.Equal(t, "up-1", resp.Header.Get("X-Request-Id"))
}

func TestForward_UnmappedBodyUntouched(t *testing.T) {
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	sel := selection(upstream.URL)
	sel.RequestedModel = "gpt-4-0613"

	body := []byte(`{"model":"gpt-4-0613",  "n":1}`)
	_, err := newForwarder(time.Second).Forward(context.Background(), sel, nil, body, false)
	require.NoError(t, err)
	assert.Equal(t, string(body), string(gotBody))
}

func TestForward_UpstreamErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer upstream.Close()

	_, err := newForwarder(time.Second).Forward(context.Background(), selection(upstream.URL), nil, []byte(`{"model":"gpt-4"}`), false)
	require.Error(t, err)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, api.TypeUpstream, apiErr.Type)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Extensions["upstream_status"])
	assert.Contains(t, apiErr.Message, "overloaded")
}

func TestForward_MalformedBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[`))
	}))
	defer upstream.Close()

	_, err := newForwarder(time.Second).Forward(context.Background(), selection(upstream.URL), nil, []byte(`{"model":"gpt-4"}`), false)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestForward_ConnectionRefused(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	_, err := newForwarder(time.Second).Forward(context.Background(), selection(url), nil, []byte(`{"model":"gpt-4"}`), false)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.NotContains(t, apiErr.Extensions, "upstream_status")
}

func TestForward_Timeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	start := time.Now()
	_, err := newForwarder(50*time.Millisecond).Forward(context.Background(), selection(upstream.URL), nil, []byte(`{"model":"gpt-4"}`), false)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.Status)
	assert.Equal(t, api.TypeTimeout, apiErr.Type)
	assert.Less(t, time.Since(start), time.Second)
}

func TestForward_ClientCancelled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the server only notices a dropped client once the body is consumed
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newForwarder(5*time.Second).Forward(ctx, selection(upstream.URL), nil, []byte(`{"model":"gpt-4"}`), false)
	assert.ErrorIs(t, err, ErrClientGone)
	assert.Less(t, time.Since(start), time.Second)
}

func sseUpstream(t *testing.T, chunks []string, after func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			flusher.Flush()
		}
		if after != nil {
			after(w, r)
		}
	}))
}

func TestStream_RelaysInOrder(t *testing.T) {
	chunks := []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n",
		"data: [DONE]\n\n",
	}
	upstream := sseUpstream(t, chunks, nil)
	defer upstream.Close()

	resp, err := newForwarder(time.Second).Forward(context.Background(), selection(upstream.URL), nil, []byte(`{"model":"gpt-4","stream":true}`), true)
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rec := httptest.NewRecorder()
	require.NoError(t, resp.Stream.Relay(rec))
	require.NoError(t, resp.Stream.Close())

	assert.Equal(t, strings.Join(chunks, ""), rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Equal(t, int64(rec.Body.Len()), resp.Stream.Written())
	assert.NoError(t, resp.Stream.Err())
}

func TestStream_InterruptedMidway(t *testing.T) {
	first := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Content-Length", fmt.Sprint(len(first)+1000))
		_, _ = io.WriteString(w, first)
		w.(http.Flusher).Flush()
	}))
	defer upstream.Close()

	resp, err := newForwarder(time.Second).Forward(context.Background(), selection(upstream.URL), nil, []byte(`{"model":"gpt-4"}`), true)
	require.NoError(t, err)
	defer func() { _ = resp.Stream.Close() }()

	rec := httptest.NewRecorder()
	err = resp.Stream.Relay(rec)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, first, rec.Body.String())
}

func TestStream_IdleTimeout(t *testing.T) {
	upstream := sseUpstream(t, []string{"data: {}\n\n"}, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	defer upstream.Close()

	resp, err := newForwarder(100*time.Millisecond).Forward(context.Background(), selection(upstream.URL), nil, []byte(`{"model":"gpt-4"}`), true)
	require.NoError(t, err)
	defer func() { _ = resp.Stream.Close() }()

	rec := httptest.NewRecorder()
	err = resp.Stream.Relay(rec)

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusGatewayTimeout, apiErr.Status)
	assert.Equal(t, "data: {}\n\n", rec.Body.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestStream_ClientWriteFailure(t *testing.T) {
	upstream := sseUpstream(t, []string{"data: {}\n\n"}, nil)
	defer upstream.Close()

	resp, err := newForwarder(time.Second).Forward(context.Background(), selection(upstream.URL), nil, []byte(`{"model":"gpt-4"}`), true)
	require.NoError(t, err)

	err = resp.Stream.Relay(failingWriter{})
	assert.ErrorIs(t, err, ErrClientGone)

	closed := 0
	resp.Stream.onClose = func(*Stream) { closed++ }
	require.NoError(t, resp.Stream.Close())
	_ = resp.Stream.Close()
	assert.Equal(t, 1, closed)
}

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/core/services"
	"github.com/nulzo/uniapi/internal/store/cache"
	"github.com/nulzo/uniapi/internal/store/model"
	"github.com/nulzo/uniapi/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type staticSource []domain.ProviderEntry

func (s staticSource) Snapshot(context.Context) ([]domain.ProviderEntry, error) {
	return s, nil
}

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

type captureIngestor struct {
	mu   sync.Mutex
	logs []*model.RequestLog
}

func (c *captureIngestor) Log(log *model.RequestLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, log)
}

func (c *captureIngestor) Start(context.Context) {}
func (c *captureIngestor) Stop()                 {}

func (c *captureIngestor) all() []*model.RequestLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.RequestLog(nil), c.logs...)
}

type recordingUpstream struct {
	*httptest.Server
	hits   atomic.Int32
	auth   atomic.Value
	models atomic.Value
}

func newRecordingUpstream(t *testing.T, handler http.HandlerFunc) *recordingUpstream {
	t.Helper()
	u := &recordingUpstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		u.auth.Store(r.Header.Get("Authorization"))
		u.models.Store(gjson.GetBytes(body, "model").String())
		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"chat.completion"}`))
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestService(entries []domain.ProviderEntry, ing *captureIngestor, opts ...Option) Service {
	fwd := NewForwarder(http.DefaultClient, time.Second, zap.NewNop())
	return NewService(zap.NewNop(), staticSource(entries), fwd, ing, opts...)
}

func chatRequest(body string) *ChatRequest {
	return &ChatRequest{
		Body:      []byte(body),
		Header:    http.Header{"Authorization": []string{"Bearer caller"}},
		ClientIP:  "10.0.0.1",
		UserAgent: "test-agent",
	}
}

func TestChatCompletions_RoutesThroughMapping(t *testing.T) {
	upA := newRecordingUpstream(t, nil)
	upB := newRecordingUpstream(t, nil)

	entries := []domain.ProviderEntry{
		{ID: "A", APIKey: "key-a", BaseURL: upA.URL, Vendor: "a", SupportedModels: []string{"gpt-4-0613"}, ModelMapping: map[string]string{"gpt-4": "gpt-4-0613"}},
		{ID: "B", APIKey: "key-b", BaseURL: upB.URL, Vendor: "b", SupportedModels: []string{"claude-3"}},
	}
	ing := &captureIngestor{}
	svc := newTestService(entries, ing, WithRand(fixedRand(1)))

	resp, err := svc.ChatCompletions(context.Background(), chatRequest(`{"model":"gpt-4","messages":[]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"object":"chat.completion"}`, string(resp.Body))

	assert.EqualValues(t, 1, upA.hits.Load())
	assert.EqualValues(t, 0, upB.hits.Load())
	assert.Equal(t, "Bearer key-a", upA.auth.Load())
	assert.Equal(t, "gpt-4-0613", upA.models.Load())

	logs := ing.all()
	require.Len(t, logs, 1)
	assert.Equal(t, "A", logs[0].ProviderID)
	assert.Equal(t, "gpt-4", logs[0].ModelID)
	assert.Equal(t, "gpt-4-0613", logs[0].UpstreamModelID)
	assert.Equal(t, http.StatusOK, logs[0].StatusCode)
	assert.Equal(t, "10.0.0.1", logs[0].IPAddress)
	assert.False(t, logs[0].Failed())
}

func TestChatCompletions_NoProviderNeverCallsUpstream(t *testing.T) {
	up := newRecordingUpstream(t, nil)
	entries := []domain.ProviderEntry{
		{ID: "A", APIKey: "key-a", BaseURL: up.URL, SupportedModels: []string{"gpt-4o"}},
	}
	ing := &captureIngestor{}
	svc := newTestService(entries, ing)

	_, err := svc.ChatCompletions(context.Background(), chatRequest(`{"model":"llama-3"}`))

	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "model_not_found", *apiErr.Code)
	assert.EqualValues(t, 0, up.hits.Load())
	assert.Empty(t, ing.all())
}

func TestChatCompletions_RejectsBadBodies(t *testing.T) {
	svc := newTestService(nil, &captureIngestor{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"model":`},
		{"missing model", `{"messages":[]}`},
		{"empty model", `{"model":""}`},
		{"non-string model", `{"model":4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ChatCompletions(context.Background(), chatRequest(tt.body))
			var apiErr *api.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		})
	}
}

func TestChatCompletions_UpstreamFailureIsLogged(t *testing.T) {
	up := newRecordingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`oops`))
	})
	entries := []domain.ProviderEntry{
		{ID: "A", APIKey: "key-a", BaseURL: up.URL, SupportedModels: []string{"gpt-4o"}},
	}
	ing := &captureIngestor{}
	tracker := services.NewHealthTracker(cache.NewMemoryCache(), zap.NewNop())
	svc := newTestService(entries, ing, WithHealthTracker(tracker, false))

	_, err := svc.ChatCompletions(context.Background(), chatRequest(`{"model":"gpt-4o"}`))
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)

	logs := ing.all()
	require.Len(t, logs, 1)
	assert.Equal(t, http.StatusBadGateway, logs[0].StatusCode)
	assert.Equal(t, api.TypeUpstream, logs[0].ErrorType)

	history, err := tracker.History(context.Background(), "A", "gpt-4o")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
}

func TestChatCompletions_StreamRecordsOnClose(t *testing.T) {
	up := newRecordingUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {}\n\ndata: [DONE]\n\n")
	})
	entries := []domain.ProviderEntry{
		{ID: "A", APIKey: "key-a", BaseURL: up.URL, SupportedModels: []string{"gpt-4o"}},
	}
	ing := &captureIngestor{}
	svc := newTestService(entries, ing)

	resp, err := svc.ChatCompletions(context.Background(), chatRequest(`{"model":"gpt-4o","stream":true}`))
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	assert.Empty(t, ing.all())

	rec := httptest.NewRecorder()
	require.NoError(t, resp.Stream.Relay(rec))
	require.NoError(t, resp.Stream.Close())

	assert.Equal(t, "data: {}\n\ndata: [DONE]\n\n", rec.Body.String())
	logs := ing.all()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].IsStreamed)
	assert.Empty(t, logs[0].ErrorType)
}

func TestChatCompletions_BreakerSkipsCoolingEntry(t *testing.T) {
	upA := newRecordingUpstream(t, nil)
	upB := newRecordingUpstream(t, nil)
	entries := []domain.ProviderEntry{
		{ID: "A", APIKey: "key-a", BaseURL: upA.URL, SupportedModels: []string{"gpt-4o"}},
		{ID: "B", APIKey: "key-b", BaseURL: upB.URL, SupportedModels: []string{"gpt-4o"}},
	}

	ctx := context.Background()
	tracker := services.NewHealthTracker(cache.NewMemoryCache(), zap.NewNop())
	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Record(ctx, "A", "gpt-4o", services.RequestRecord{At: time.Now()}))
	}

	svc := newTestService(entries, &captureIngestor{}, WithRand(fixedRand(0)), WithHealthTracker(tracker, true))
	for i := 0; i < 5; i++ {
		_, err := svc.ChatCompletions(ctx, chatRequest(`{"model":"gpt-4o"}`))
		require.NoError(t, err)
	}

	assert.EqualValues(t, 0, upA.hits.Load())
	assert.EqualValues(t, 5, upB.hits.Load())
}

func TestListModels(t *testing.T) {
	entries := []domain.ProviderEntry{
		{ID: "A", SupportedModels: []string{"gpt-4-0613"}, ModelMapping: map[string]string{"gpt-4": "gpt-4-0613", "ghost": "missing"}},
		{ID: "B", SupportedModels: []string{"claude-3", "gpt-4-0613"}},
	}
	svc := newTestService(entries, &captureIngestor{})

	list, err := svc.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "list", list.Object)

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
		assert.Equal(t, api.OwnedBy, m.OwnedBy)
	}
	assert.Equal(t, []string{"claude-3", "gpt-4", "gpt-4-0613"}, ids)
}

package gateway

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/uniapi/internal/analytics"
	"github.com/nulzo/uniapi/internal/core/ports"
	"github.com/nulzo/uniapi/internal/core/services"
	"github.com/nulzo/uniapi/internal/store/model"
	"github.com/nulzo/uniapi/pkg/api"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// StatusClientClosed is recorded when the caller went away mid-request.
const StatusClientClosed = 499

// Service defines the business logic for forwarding requests.
type Service interface {
	ChatCompletions(ctx context.Context, req *ChatRequest) (*Response, error)
	ListModels(ctx context.Context) (*api.ModelList, error)
}

// ChatRequest is an inbound chat completion with the caller's metadata.
type ChatRequest struct {
	// RequestID correlates log lines with the HTTP access log.
	RequestID string
	Body      []byte
	Header    http.Header
	ClientIP  string
	UserAgent string
}

type Option func(*service)

// WithRand replaces the random source used for provider selection.
func WithRand(r ports.Rand) Option {
	return func(s *service) { s.rng = r }
}

// WithHealthTracker records every outcome in t. With breaker set, entries
// in cooldown are skipped during selection.
func WithHealthTracker(t *services.HealthTracker, breaker bool) Option {
	return func(s *service) {
		s.tracker = t
		s.breaker = breaker
	}
}

type service struct {
	logger    *zap.Logger
	providers ports.ProviderSource
	forwarder *Forwarder
	ingestor  analytics.Ingestor
	tracker   *services.HealthTracker
	breaker   bool
	rng       ports.Rand
	now       func() time.Time
}

func NewService(logger *zap.Logger, providers ports.ProviderSource, forwarder *Forwarder, ingestor analytics.Ingestor, opts ...Option) Service {
	s := &service{
		logger:    logger,
		providers: providers,
		forwarder: forwarder,
		ingestor:  ingestor,
		rng:       services.DefaultRand,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) ChatCompletions(ctx context.Context, req *ChatRequest) (*Response, error) {
	if !gjson.ValidBytes(req.Body) {
		return nil, api.BadRequestError("Request body must be valid JSON")
	}

	modelField := gjson.GetBytes(req.Body, "model")
	if modelField.Type != gjson.String || modelField.Str == "" {
		return nil, api.ValidationError(map[string]string{"model": "model is a required field"})
	}
	requested := modelField.Str
	stream := gjson.GetBytes(req.Body, "stream").Bool()

	entries, err := s.providers.Snapshot(ctx)
	if err != nil {
		return nil, api.InternalError("Provider configuration unavailable", err)
	}

	candidates := services.EligibleProviders(entries, requested)
	if s.breaker && s.tracker != nil && len(candidates) > 1 {
		candidates = s.tracker.Filter(ctx, candidates)
	}

	sel, err := services.Pick(candidates, requested, s.rng)
	if err != nil {
		s.logger.Warn("No provider for model", zap.String("model", requested))
		return nil, err
	}

	start := s.now()
	resp, err := s.forwarder.Forward(ctx, sel, req.Header, req.Body, stream)
	if err != nil {
		s.finish(ctx, req, sel, stream, start, 0, 0, err)
		return nil, err
	}

	if resp.Stream != nil {
		resp.Stream.onClose = func(st *Stream) {
			s.finish(ctx, req, sel, true, start, resp.StatusCode, st.FirstByte(), st.Err())
		}
		return resp, nil
	}

	s.finish(ctx, req, sel, false, start, resp.StatusCode, 0, nil)
	return resp, nil
}

func (s *service) ListModels(ctx context.Context) (*api.ModelList, error) {
	entries, err := s.providers.Snapshot(ctx)
	if err != nil {
		return nil, api.InternalError("Provider configuration unavailable", err)
	}

	created := s.now().Unix()
	names := services.RoutableModels(entries)
	list := &api.ModelList{Object: "list", Data: make([]api.Model, 0, len(names))}
	for _, name := range names {
		list.Data = append(list.Data, api.Model{
			ID:      name,
			Object:  "model",
			Created: created,
			OwnedBy: api.OwnedBy,
		})
	}
	return list, nil
}

// finish records the outcome in the health history and the request log.
func (s *service) finish(ctx context.Context, req *ChatRequest, sel services.Selection, stream bool, start time.Time, status int, firstByte time.Duration, err error) {
	latency := s.now().Sub(start)
	clientGone := errors.Is(err, ErrClientGone)

	var errType string
	if err != nil {
		var apiErr *api.APIError
		switch {
		case clientGone:
			errType = "client_closed"
			if status == 0 {
				status = StatusClientClosed
			}
		case errors.As(err, &apiErr):
			errType = apiErr.Type
			if status == 0 {
				status = apiErr.Status
			}
		default:
			errType = api.TypeServer
			status = http.StatusInternalServerError
		}
	}

	fields := []zap.Field{
		zap.String("request_id", req.RequestID),
		zap.String("provider_id", sel.Entry.ID),
		zap.String("model", sel.RequestedModel),
		zap.String("upstream_model", sel.UpstreamModel),
		zap.Bool("stream", stream),
		zap.Int("status", status),
		zap.Duration("latency", latency),
	}
	switch {
	case err == nil:
		s.logger.Info("Chat completion forwarded", fields...)
	case clientGone:
		s.logger.Info("Client disconnected", append(fields, zap.Error(err))...)
	default:
		s.logger.Warn("Chat completion failed", append(fields, zap.Error(err))...)
	}

	bg := context.WithoutCancel(ctx)

	if s.tracker != nil && !clientGone {
		rec := services.RequestRecord{
			At:          s.now(),
			Success:     err == nil,
			FirstByteMS: firstByte.Milliseconds(),
			Stream:      stream,
		}
		if recErr := s.tracker.Record(bg, sel.Entry.ID, sel.UpstreamModel, rec); recErr != nil {
			s.logger.Warn("Failed to record provider outcome", zap.Error(recErr))
		}
	}

	if s.ingestor != nil {
		log := &model.RequestLog{
			ID:              uuid.NewString(),
			ProviderID:      sel.Entry.ID,
			Vendor:          sel.Entry.Vendor,
			ModelID:         sel.RequestedModel,
			UpstreamModelID: sel.UpstreamModel,
			LatencyMS:       latency.Milliseconds(),
			StatusCode:      status,
			ErrorType:       errType,
			IsStreamed:      stream,
			IPAddress:       req.ClientIP,
			UserAgent:       req.UserAgent,
			CreatedAt:       start,
		}
		if stream && firstByte > 0 {
			log.TTFTMS = sql.NullInt64{Int64: firstByte.Milliseconds(), Valid: true}
		}
		s.ingestor.Log(log)
	}
}

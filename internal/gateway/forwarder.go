package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nulzo/uniapi/internal/core/services"
	"github.com/nulzo/uniapi/internal/httpclient"
	"github.com/nulzo/uniapi/pkg/api"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// ErrClientGone is returned when the caller disconnected mid-request.
var ErrClientGone = errors.New("client connection closed")

const relayBufferSize = 32 << 10

// Forwarder sends one chat completion request to the selected upstream.
type Forwarder struct {
	client  httpclient.HTTPClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewForwarder(client httpclient.HTTPClient, timeout time.Duration, logger *zap.Logger) *Forwarder {
	return &Forwarder{client: client, timeout: timeout, logger: logger}
}

// Response is a successful upstream answer. Exactly one of Body and Stream
// is set.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     *Stream
}

// Forward rewrites the model name when the selection remapped it, attaches
// the entry's key and performs the call.
func (f *Forwarder) Forward(ctx context.Context, sel services.Selection, inbound http.Header, body []byte, stream bool) (*Response, error) {
	if sel.Remapped() {
		rewritten, err := sjson.SetBytes(body, "model", sel.UpstreamModel)
		if err != nil {
			return nil, api.BadRequestError("Request body could not be rewritten", api.WithLog(err))
		}
		body = rewritten
	}

	url := UpstreamURL(sel.Entry.BaseURL)
	headers := upstreamHeaders(inbound, sel.Entry.APIKey, stream)

	callCtx, cancel := context.WithCancel(ctx)
	wd := newWatchdog(f.timeout, cancel)

	f.logger.Debug("Forwarding chat completion",
		zap.String("provider_id", sel.Entry.ID),
		zap.String("url", url),
		zap.String("model", sel.UpstreamModel),
		zap.Bool("stream", stream),
	)

	resp, err := httpclient.PostRaw(callCtx, f.client, url, headers, body)
	if err != nil {
		wd.stop()
		cancel()
		return nil, f.classify(ctx, wd, err)
	}
	wd.kick()

	if stream {
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     responseHeaders(resp.Header),
			Stream: &Stream{
				parent:   ctx,
				body:     resp.Body,
				watchdog: wd,
				cancel:   cancel,
				forward:  f,
				started:  time.Now(),
			},
		}, nil
	}

	defer func() {
		wd.stop()
		cancel()
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, f.classify(ctx, wd, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, api.UpstreamError(resp.StatusCode, "malformed response body", nil)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     responseHeaders(resp.Header),
		Body:       data,
	}, nil
}

// classify maps a transport failure onto the error kinds callers see.
func (f *Forwarder) classify(parent context.Context, wd *watchdog, err error) error {
	var upErr *httpclient.UpstreamError
	switch {
	case wd.expired():
		return api.TimeoutError(f.timeout)
	case errors.As(err, &upErr):
		return api.UpstreamError(upErr.StatusCode, upErr.Detail(), upErr)
	case parent.Err() != nil:
		return fmt.Errorf("%w: %w", ErrClientGone, parent.Err())
	default:
		return api.UpstreamError(0, "connection failed", err)
	}
}

// Stream is an open upstream event stream.
type Stream struct {
	parent   context.Context
	body     io.ReadCloser
	watchdog *watchdog
	cancel   context.CancelFunc
	forward  *Forwarder

	started   time.Time
	firstByte time.Duration
	written   int64
	err       error

	onClose   func(s *Stream)
	closeOnce sync.Once
}

// Relay copies upstream bytes to w as they arrive, flushing after every
// write when w supports it. Nothing is buffered beyond a single read. It
// returns nil once the upstream closes the stream normally.
func (s *Stream) Relay(w io.Writer) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, relayBufferSize)

	for {
		n, rerr := s.body.Read(buf)
		if n > 0 {
			s.watchdog.kick()
			if s.written == 0 {
				s.firstByte = time.Since(s.started)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.err = fmt.Errorf("%w: %w", ErrClientGone, werr)
				return s.err
			}
			s.written += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}

		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			if s.watchdog.expired() {
				s.err = api.TimeoutError(s.forward.timeout)
			} else if s.parent.Err() != nil {
				s.err = fmt.Errorf("%w: %w", ErrClientGone, s.parent.Err())
			} else {
				s.err = api.UpstreamError(0, "stream interrupted", rerr)
			}
			return s.err
		}
	}
}

// Err returns the error that ended Relay, if any.
func (s *Stream) Err() error { return s.err }

// FirstByte is the delay between the response headers and the first body
// bytes. Zero when nothing was relayed.
func (s *Stream) FirstByte() time.Duration { return s.firstByte }

// Written is the number of bytes relayed to the caller.
func (s *Stream) Written() int64 { return s.written }

// Close releases the upstream connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.watchdog.stop()
		s.cancel()
		err = s.body.Close()
		if s.onClose != nil {
			s.onClose(s)
		}
	})
	return err
}

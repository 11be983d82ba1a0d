package v1

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/uniapi/internal/gateway"
	"github.com/nulzo/uniapi/internal/server/middleware"
	"github.com/nulzo/uniapi/pkg/api"
	"go.uber.org/zap"
)

// MaxRequestBody caps the size of an inbound chat completion body.
const MaxRequestBody = 32 << 20

type ChatHandler struct {
	service gateway.Service
	logger  *zap.Logger
}

func NewChatHandler(service gateway.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

// CreateCompletion forwards a chat completion to one provider entry and
// relays its answer.
//
// POST /v1/chat/completions
func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxRequestBody+1))
	if err != nil {
		_ = c.Error(api.BadRequestError("Failed to read request body", api.WithLog(err)))
		return
	}
	if len(body) > MaxRequestBody {
		_ = c.Error(api.NewError(http.StatusRequestEntityTooLarge, api.TypeInvalidRequest, "Request body too large"))
		return
	}

	resp, err := h.service.ChatCompletions(c.Request.Context(), &gateway.ChatRequest{
		RequestID: c.GetString(middleware.ContextKeyRequestID),
		Body:      body,
		Header:    c.Request.Header,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	if resp.Stream != nil {
		h.relay(c, resp)
		return
	}

	copyHeaders(c, resp.Header)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, resp.Body)
}

func (h *ChatHandler) relay(c *gin.Context, resp *gateway.Response) {
	defer func() {
		_ = resp.Stream.Close()
	}()

	copyHeaders(c, resp.Header)
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	err := resp.Stream.Relay(c.Writer)
	if err == nil {
		return
	}
	_ = c.Error(err)
	if errors.Is(err, gateway.ErrClientGone) {
		return
	}

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.InternalError("Stream failed", err)
	}
	data, mErr := apiErr.MarshalJSON()
	if mErr != nil {
		h.logger.Error("Failed to encode stream error", zap.Error(mErr))
		return
	}
	if _, wErr := fmt.Fprintf(c.Writer, "data: %s\n\n", data); wErr != nil {
		return
	}
	c.Writer.Flush()
}

// copyHeaders replaces any header already set, such as X-Request-Id, with
// the upstream's value.
func copyHeaders(c *gin.Context, h http.Header) {
	dst := c.Writer.Header()
	for k, vs := range h {
		dst[k] = append([]string(nil), vs...)
	}
}

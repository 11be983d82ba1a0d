package model

import (
	"database/sql"
	"time"
)

// RequestLog captures one forwarded chat completion.
type RequestLog struct {
	ID              string        `db:"id" json:"id"`
	ProviderID      string        `db:"provider_id" json:"provider_id"`
	Vendor          string        `db:"vendor" json:"vendor"`
	ModelID         string        `db:"model_id" json:"model_id"`
	UpstreamModelID string        `db:"upstream_model_id" json:"upstream_model_id"`
	LatencyMS       int64         `db:"latency_ms" json:"latency_ms"`
	TTFTMS          sql.NullInt64 `db:"ttft_ms" json:"ttft_ms,omitempty"`
	StatusCode      int           `db:"status_code" json:"status_code"`
	ErrorType       string        `db:"error_type" json:"error_type,omitempty"`
	IsStreamed      bool          `db:"is_streamed" json:"is_streamed"`
	IPAddress       string        `db:"ip_address" json:"ip_address"`
	UserAgent       string        `db:"user_agent" json:"user_agent"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// Failed reports whether the request ended in an error.
func (l *RequestLog) Failed() bool {
	return l.ErrorType != "" || l.StatusCode >= 400
}

// ProviderRow is the SQL form of a provider entry; list and map columns
// hold JSON.
type ProviderRow struct {
	ID              string    `db:"id"`
	APIKey          string    `db:"api_key"`
	BaseURL         string    `db:"base_url"`
	Vendor          string    `db:"vendor"`
	SupportedModels string    `db:"supported_models"`
	ModelMapping    string    `db:"model_mapping"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// DailyStats represents aggregated usage data for a specific day.
type DailyStats struct {
	Date           string  `db:"date" json:"date"`
	TotalRequests  int     `db:"total_requests" json:"total_requests"`
	FailedRequests int     `db:"failed_requests" json:"failed_requests"`
	StreamRequests int     `db:"stream_requests" json:"stream_requests"`
	AverageLatency float64 `db:"avg_latency" json:"avg_latency"`
}

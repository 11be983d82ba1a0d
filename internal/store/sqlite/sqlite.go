package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB
	executor DB
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WithTx runs fn against a repository bound to a single transaction.
func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Providers() store.ProviderRepository {
	return &providerRepo{db: r.executor}
}

func (r *SqliteRepository) Requests() store.RequestRepository {
	return &requestRepo{db: r.executor}
}

type providerRepo struct {
	db DB
}

func (r *providerRepo) List(ctx context.Context) ([]domain.ProviderEntry, error) {
	var rows []model.ProviderRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM providers ORDER BY created_at, id`); err != nil {
		return nil, err
	}

	out := make([]domain.ProviderEntry, 0, len(rows))
	for _, row := range rows {
		e, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *providerRepo) Get(ctx context.Context, id string) (*domain.ProviderEntry, error) {
	var row model.ProviderRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM providers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *providerRepo) Upsert(ctx context.Context, entry *domain.ProviderEntry) error {
	row, err := toRow(entry)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO providers (
		id, api_key, base_url, vendor, supported_models, model_mapping, created_at, updated_at
	) VALUES (
		:id, :api_key, :base_url, :vendor, :supported_models, :model_mapping, :created_at, :updated_at
	)
	ON CONFLICT(id) DO UPDATE SET
		api_key = excluded.api_key,
		base_url = excluded.base_url,
		vendor = excluded.vendor,
		supported_models = excluded.supported_models,
		model_mapping = excluded.model_mapping,
		updated_at = excluded.updated_at`

	_, err = r.db.NamedExecContext(ctx, query, row)
	return err
}

func (r *providerRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func toRow(e *domain.ProviderEntry) (model.ProviderRow, error) {
	models, err := json.Marshal(e.SupportedModels)
	if err != nil {
		return model.ProviderRow{}, err
	}
	mapping := e.ModelMapping
	if mapping == nil {
		mapping = map[string]string{}
	}
	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return model.ProviderRow{}, err
	}

	return model.ProviderRow{
		ID:              e.ID,
		APIKey:          e.APIKey,
		BaseURL:         e.BaseURL,
		Vendor:          e.Vendor,
		SupportedModels: string(models),
		ModelMapping:    string(mappingJSON),
		CreatedAt:       e.CreatedAt.UTC(),
		UpdatedAt:       e.UpdatedAt.UTC(),
	}, nil
}

func fromRow(row model.ProviderRow) (domain.ProviderEntry, error) {
	e := domain.ProviderEntry{
		ID:        row.ID,
		APIKey:    row.APIKey,
		BaseURL:   row.BaseURL,
		Vendor:    row.Vendor,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.SupportedModels), &e.SupportedModels); err != nil {
		return e, fmt.Errorf("decode supported_models of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.ModelMapping), &e.ModelMapping); err != nil {
		return e, fmt.Errorf("decode model_mapping of %s: %w", row.ID, err)
	}
	return e, nil
}

type requestRepo struct {
	db DB
}

func (r *requestRepo) Log(ctx context.Context, log *model.RequestLog) error {
	row := *log
	row.CreatedAt = row.CreatedAt.UTC()

	query := `
	INSERT INTO request_logs (
		id, provider_id, vendor, model_id, upstream_model_id,
		latency_ms, ttft_ms, status_code, error_type, is_streamed,
		ip_address, user_agent, created_at
	) VALUES (
		:id, :provider_id, :vendor, :model_id, :upstream_model_id,
		:latency_ms, :ttft_ms, :status_code, :error_type, :is_streamed,
		:ip_address, :user_agent, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, row)
	return err
}

func (r *requestRepo) GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	if limit <= 0 {
		limit = store.MaxRecentLogs
	}
	var logs []model.RequestLog
	query := `SELECT * FROM request_logs ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &logs, query, limit)
	return logs, err
}

func (r *requestRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	var stats []model.DailyStats
	query := `
		SELECT
			DATE(created_at) as date,
			COUNT(*) as total_requests,
			SUM(CASE WHEN error_type != '' OR status_code >= 400 THEN 1 ELSE 0 END) as failed_requests,
			SUM(CASE WHEN is_streamed THEN 1 ELSE 0 END) as stream_requests,
			AVG(latency_ms) as avg_latency
		FROM request_logs
		WHERE created_at >= DATE('now', ?)
		GROUP BY date
		ORDER BY date DESC
	`
	// SQLite date offset format is '-7 days'
	err := r.db.SelectContext(ctx, &stats, query, fmt.Sprintf("-%d days", days))
	return stats, err
}

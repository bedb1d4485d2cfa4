package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/models"
)

// PostgresStore is the durable mirror for registered endpoints: hot-path
// lookups stay in Registry's in-memory index, while every Register/
// Unregister/UpdatePerformance call is persisted here for restart recovery
// and offline analytics, following the teacher's upsert-by-id convention in
// model_metadata_repository.go.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. Callers are responsible for
// running the module's migrations beforehand.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const upsertEndpointQuery = `
	INSERT INTO model_endpoints (
		id, name, provider, url, auth_header,
		pricing_input_per1k, pricing_output_per1k, pricing_currency,
		capabilities, constraints, performance, priority, active,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
	)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		provider = EXCLUDED.provider,
		url = EXCLUDED.url,
		auth_header = EXCLUDED.auth_header,
		pricing_input_per1k = EXCLUDED.pricing_input_per1k,
		pricing_output_per1k = EXCLUDED.pricing_output_per1k,
		pricing_currency = EXCLUDED.pricing_currency,
		capabilities = EXCLUDED.capabilities,
		constraints = EXCLUDED.constraints,
		performance = EXCLUDED.performance,
		priority = EXCLUDED.priority,
		active = EXCLUDED.active,
		updated_at = EXCLUDED.updated_at
`

// Upsert persists e, following the teacher's ON CONFLICT (id) DO UPDATE pattern.
func (s *PostgresStore) Upsert(e models.ModelEndpoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	capJSON, err := json.Marshal(e.Capabilities)
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "marshal capabilities")
	}
	constraintsJSON, err := json.Marshal(e.Constraints)
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "marshal constraints")
	}
	perfJSON, err := json.Marshal(e.Performance)
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "marshal performance")
	}

	now := time.Now()
	_, err = s.pool.Exec(ctx, upsertEndpointQuery,
		e.ID, e.Name, e.Provider, e.Endpoint.URL, e.Endpoint.AuthHeader,
		e.Pricing.InputPer1k, e.Pricing.OutputPer1k, e.Pricing.Currency,
		capJSON, constraintsJSON, perfJSON, e.Priority, e.Active,
		now, now,
	)
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, fmt.Sprintf("upsert model endpoint %q", e.ID))
	}
	return nil
}

// Delete removes an endpoint's durable record.
func (s *PostgresStore) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `DELETE FROM model_endpoints WHERE id = $1`, id)
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, fmt.Sprintf("delete model endpoint %q", id))
	}
	return nil
}

// LoadAll reads every persisted endpoint, for populating a fresh Registry
// on process start.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]models.ModelEndpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, provider, url, auth_header,
		       pricing_input_per1k, pricing_output_per1k, pricing_currency,
		       capabilities, constraints, performance, priority, active
		FROM model_endpoints
	`)
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "load model endpoints")
	}
	defer rows.Close()

	var out []models.ModelEndpoint
	for rows.Next() {
		var e models.ModelEndpoint
		var capJSON, constraintsJSON, perfJSON []byte
		if err := rows.Scan(
			&e.ID, &e.Name, &e.Provider, &e.Endpoint.URL, &e.Endpoint.AuthHeader,
			&e.Pricing.InputPer1k, &e.Pricing.OutputPer1k, &e.Pricing.Currency,
			&capJSON, &constraintsJSON, &perfJSON, &e.Priority, &e.Active,
		); err != nil {
			return nil, aimwerr.Wrap(aimwerr.StoreError, err, "scan model endpoint")
		}
		if err := json.Unmarshal(capJSON, &e.Capabilities); err != nil {
			return nil, aimwerr.Wrap(aimwerr.StoreError, err, "unmarshal capabilities")
		}
		if err := json.Unmarshal(constraintsJSON, &e.Constraints); err != nil {
			return nil, aimwerr.Wrap(aimwerr.StoreError, err, "unmarshal constraints")
		}
		if err := json.Unmarshal(perfJSON, &e.Performance); err != nil {
			return nil, aimwerr.Wrap(aimwerr.StoreError, err, "unmarshal performance")
		}
		out = append(out, e)
	}
	return out, nil
}

// RecordPerformanceSnapshot appends a point-in-time copy of an endpoint's
// rolling performance summary to an append-only history table, for offline
// analytics. It never affects the hot-path in-memory registry.
func (s *PostgresStore) RecordPerformanceSnapshot(ctx context.Context, id string, perf models.Performance) error {
	perfJSON, err := json.Marshal(perf)
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "marshal performance snapshot")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO model_endpoint_performance_snapshots (endpoint_id, performance, taken_at)
		VALUES ($1, $2, $3)
	`, id, perfJSON, time.Now())
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, fmt.Sprintf("record performance snapshot for %q", id))
	}
	return nil
}

// EnsureSchema creates the backing tables if they do not already exist.
// Callers typically run this once at startup before registering a
// PostgresStore with a Registry.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS model_endpoints (
			id                   TEXT PRIMARY KEY,
			name                 TEXT NOT NULL,
			provider             TEXT NOT NULL,
			url                  TEXT NOT NULL,
			auth_header          TEXT,
			pricing_input_per1k  DOUBLE PRECISION NOT NULL DEFAULT 0,
			pricing_output_per1k DOUBLE PRECISION NOT NULL DEFAULT 0,
			pricing_currency     TEXT NOT NULL DEFAULT 'USD',
			capabilities         JSONB NOT NULL,
			constraints          JSONB NOT NULL,
			performance          JSONB NOT NULL,
			priority             INTEGER NOT NULL DEFAULT 0,
			active               BOOLEAN NOT NULL DEFAULT true,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "ensure model_endpoints schema")
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS model_endpoint_performance_snapshots (
			id          BIGSERIAL PRIMARY KEY,
			endpoint_id TEXT NOT NULL,
			performance JSONB NOT NULL,
			taken_at    TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "ensure model_endpoint_performance_snapshots schema")
	}
	return nil
}

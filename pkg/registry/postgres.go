package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/bpi-core/bpci-core/pkg/receipt"
)

// PostgresStore implements the same receipt-registry contract as Store but
// against a Postgres database, for multi-node deployments where the
// registry must be queryable outside the consensus process. It uses
// keyset pagination (timestamp, receipt_id) rather than Store's in-memory
// offset cursor, since OFFSET degrades badly on large tables, but exposes
// the identical opaque-cursor Query signature.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and ensures the
// registry schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	receipt_id     TEXT PRIMARY KEY,
	app_id         TEXT NOT NULL,
	container_id   TEXT NOT NULL,
	step_index     BIGINT NOT NULL,
	block_height   BIGINT NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	payload        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS receipts_app_idx ON receipts (app_id);
CREATE INDEX IF NOT EXISTS receipts_container_time_idx ON receipts (container_id, timestamp);
CREATE INDEX IF NOT EXISTS receipts_height_idx ON receipts (block_height);
CREATE INDEX IF NOT EXISTS receipts_compliance_idx ON receipts (((payload -> 'Labels' ->> 'policy_compliant')));
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("registry: migrate schema: %w", err)
	}
	return nil
}

// StoreReceipt inserts r. A duplicate receipt_id is reported as
// ErrDuplicateReceipt rather than a raw driver error.
func (s *PostgresStore) StoreReceipt(r *receipt.StepReceipt, blockHeight uint64) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("registry: marshal receipt: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO receipts (receipt_id, app_id, container_id, step_index, block_height, timestamp, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ReceiptID, r.AppID, r.ContainerID, r.StepIndex, blockHeight, r.Timestamp, payload,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReceipt
		}
		return fmt.Errorf("registry: insert receipt: %w", err)
	}
	return nil
}

// GetReceipt looks up a single receipt by ID.
func (s *PostgresStore) GetReceipt(id string) (*receipt.StepReceipt, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM receipts WHERE receipt_id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: select receipt: %w", err)
	}
	var r receipt.StepReceipt
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("registry: unmarshal receipt: %w", err)
	}
	return &r, nil
}

// Query filters receipts in the database, paging with a keyset cursor
// encoding the last row's (timestamp, receipt_id) pair.
func (s *PostgresStore) Query(params QueryParams) (*QueryResult, error) {
	start := time.Now()
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	cursorTime, cursorID, err := decodeKeysetCursor(params.Cursor)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	query := `SELECT payload, timestamp, receipt_id FROM receipts WHERE 1=1`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if params.ReceiptID != "" {
		query += " AND receipt_id = " + arg(params.ReceiptID)
	}
	if params.ExecutionID != "" {
		query += " AND app_id = " + arg(params.ExecutionID)
	}
	if !params.TimeFrom.IsZero() {
		query += " AND timestamp >= " + arg(params.TimeFrom)
	}
	if !params.TimeTo.IsZero() {
		query += " AND timestamp <= " + arg(params.TimeTo)
	}
	if params.BlockHeightFrom > 0 {
		query += " AND block_height >= " + arg(params.BlockHeightFrom)
	}
	if params.BlockHeightTo > 0 {
		query += " AND block_height <= " + arg(params.BlockHeightTo)
	}
	if params.ComplianceOnly {
		query += " AND COALESCE(payload -> 'Labels' ->> 'policy_compliant', 'true') <> 'false'"
	}
	if !cursorTime.IsZero() {
		query += " AND (timestamp, receipt_id) > (" + arg(cursorTime) + ", " + arg(cursorID) + ")"
	}
	query += " ORDER BY timestamp, receipt_id LIMIT " + arg(pageSize+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*receipt.StepReceipt
	var lastTime time.Time
	var lastID string
	for rows.Next() {
		var payload []byte
		var ts time.Time
		var id string
		if err := rows.Scan(&payload, &ts, &id); err != nil {
			return nil, fmt.Errorf("registry: scan receipt row: %w", err)
		}
		var r receipt.StepReceipt
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("registry: unmarshal receipt row: %w", err)
		}
		receipts = append(receipts, &r)
		lastTime, lastID = ts, id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate receipt rows: %w", err)
	}

	hasMore := len(receipts) > pageSize
	if hasMore {
		receipts = receipts[:pageSize]
	}

	result := &QueryResult{
		Receipts: receipts,
		Pagination: Pagination{
			PageSize: pageSize,
			HasMore:  hasMore,
		},
		QueryTimeMs: time.Since(start).Milliseconds(),
	}
	if hasMore {
		result.Pagination.NextCursor = encodeKeysetCursor(lastTime, lastID)
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	// lib/pq reports unique_violation as SQLSTATE 23505; comparing the
	// message substring avoids importing pq.Error's internal code table.
	return err != nil && containsAny(err.Error(), "duplicate key value", "23505")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

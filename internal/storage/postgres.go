package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/methods"
	"github.com/BrikPay/refunds-service/internal/refund"
	"github.com/BrikPay/refunds-service/internal/state"
)

// PostgresStore implements refund.Repository on PostgreSQL. Column-shaped
// fields get real columns so Search stays indexable; history, metadata, and
// documents live in JSONB.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore opens a connection pool and ensures the schema exists.
func NewPostgresStore(cfg config.StorageConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		// Close errors during failed initialization are not actionable.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, cfg.PostgresPool)

	store := &PostgresStore{db: db, ownsDB: true}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB reuses an existing pool, for sharing one pool
// across repositories.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS refund_requests (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			merchant_id TEXT NOT NULL,
			customer_id TEXT NOT NULL DEFAULT '',
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			method TEXT NOT NULL,
			reason_code TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			bank_account_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			status_history JSONB NOT NULL DEFAULT '[]',
			gateway_reference TEXT NOT NULL DEFAULT '',
			approval_id TEXT NOT NULL DEFAULT '',
			failure_code TEXT NOT NULL DEFAULT '',
			failure_message TEXT NOT NULL DEFAULT '',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			requires_approval BOOLEAN NOT NULL DEFAULT FALSE,
			estimated_settlement_date TIMESTAMPTZ,
			metadata JSONB,
			supporting_documents JSONB,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			submitted_at TIMESTAMPTZ,
			processed_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_refund_requests_merchant_created
			ON refund_requests (merchant_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_refund_requests_transaction
			ON refund_requests (transaction_id);
		CREATE INDEX IF NOT EXISTS idx_refund_requests_status
			ON refund_requests (status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create refund tables: %w", err)
	}
	return nil
}

const refundColumns = `id, transaction_id, merchant_id, customer_id, amount, currency,
	method, reason_code, reason, bank_account_id, status, status_history,
	gateway_reference, approval_id, failure_code, failure_message, attempt_count,
	requires_approval, estimated_settlement_date, metadata, supporting_documents,
	created_by, created_at, updated_at, submitted_at, processed_at, completed_at`

func refundArgs(r *refund.Refund) ([]any, error) {
	history, err := json.Marshal(r.StatusHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal status history: %w", err)
	}
	var metadata, docs []byte
	if r.Metadata != nil {
		if metadata, err = json.Marshal(r.Metadata); err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	if r.SupportingDocuments != nil {
		if docs, err = json.Marshal(r.SupportingDocuments); err != nil {
			return nil, fmt.Errorf("marshal supporting documents: %w", err)
		}
	}
	return []any{
		r.ID, r.TransactionID, r.MerchantID, r.CustomerID, r.Amount, r.Currency,
		string(r.Method), r.ReasonCode, r.Reason, r.BankAccountID, string(r.Status), history,
		r.GatewayReference, r.ApprovalID, string(r.FailureCode), r.FailureMessage, r.AttemptCount,
		r.RequiresApproval, r.EstimatedSettlementDate, nullableJSON(metadata), nullableJSON(docs),
		r.CreatedBy, r.CreatedAt, r.UpdatedAt, r.SubmittedAt, r.ProcessedAt, r.CompletedAt,
	}, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Create inserts a new refund row. Duplicate IDs are rejected.
func (s *PostgresStore) Create(ctx context.Context, r *refund.Refund) error {
	args, err := refundArgs(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refund_requests (`+refundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
	`, args...)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return errors.NewBusinessError(errors.ErrCodeDuplicateRefund,
			"refund "+r.ID+" already exists", "use a fresh refund ID")
	}
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// Update rewrites an existing row.
func (s *PostgresStore) Update(ctx context.Context, r *refund.Refund) error {
	args, err := refundArgs(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE refund_requests SET
			transaction_id = $2, merchant_id = $3, customer_id = $4, amount = $5,
			currency = $6, method = $7, reason_code = $8, reason = $9,
			bank_account_id = $10, status = $11, status_history = $12,
			gateway_reference = $13, approval_id = $14, failure_code = $15,
			failure_message = $16, attempt_count = $17, requires_approval = $18,
			estimated_settlement_date = $19, metadata = $20,
			supporting_documents = $21, created_by = $22, created_at = $23,
			updated_at = $24, submitted_at = $25, processed_at = $26,
			completed_at = $27
		WHERE id = $1
	`, args...)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if n == 0 {
		return refund.NotFoundError(r.ID)
	}
	return nil
}

func scanRefund(row interface{ Scan(...any) error }) (*refund.Refund, error) {
	var (
		r                     refund.Refund
		method, status, fcode string
		history               []byte
		metadata, docs        sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.TransactionID, &r.MerchantID, &r.CustomerID, &r.Amount, &r.Currency,
		&method, &r.ReasonCode, &r.Reason, &r.BankAccountID, &status, &history,
		&r.GatewayReference, &r.ApprovalID, &fcode, &r.FailureMessage, &r.AttemptCount,
		&r.RequiresApproval, &r.EstimatedSettlementDate, &metadata, &docs,
		&r.CreatedBy, &r.CreatedAt, &r.UpdatedAt, &r.SubmittedAt, &r.ProcessedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Method = methods.RefundMethod(method)
	r.Status = state.Status(status)
	r.FailureCode = errors.ErrorCode(fcode)
	if err := json.Unmarshal(history, &r.StatusHistory); err != nil {
		return nil, fmt.Errorf("unmarshal status history: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if docs.Valid && docs.String != "" {
		if err := json.Unmarshal([]byte(docs.String), &r.SupportingDocuments); err != nil {
			return nil, fmt.Errorf("unmarshal supporting documents: %w", err)
		}
	}
	return &r, nil
}

// FindByID retrieves one refund by its ID.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*refund.Refund, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+refundColumns+` FROM refund_requests WHERE id = $1`, id)
	r, err := scanRefund(row)
	if err == sql.ErrNoRows {
		return nil, refund.NotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("find refund: %w", err)
	}
	return r, nil
}

// FindByMerchant pages through a merchant's refunds, newest first.
func (s *PostgresStore) FindByMerchant(ctx context.Context, merchantID string, page refund.Page) ([]*refund.Refund, error) {
	return s.Search(ctx, refund.Query{MerchantID: merchantID}, page)
}

// Search filters refunds by the query criteria, newest first.
func (s *PostgresStore) Search(ctx context.Context, q refund.Query, page refund.Page) ([]*refund.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_requests WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.MerchantID != "" {
		query += ` AND merchant_id = ` + arg(q.MerchantID)
	}
	if q.TransactionID != "" {
		query += ` AND transaction_id = ` + arg(q.TransactionID)
	}
	if q.Status != "" {
		query += ` AND status = ` + arg(string(q.Status))
	}
	if q.Method != "" {
		query += ` AND method = ` + arg(string(q.Method))
	}
	if q.CreatedAfter != nil {
		query += ` AND created_at >= ` + arg(*q.CreatedAfter)
	}
	if q.CreatedBefore != nil {
		query += ` AND created_at <= ` + arg(*q.CreatedBefore)
	}
	query += ` ORDER BY created_at DESC`
	if page.Limit > 0 {
		query += ` LIMIT ` + arg(page.Limit)
	}
	if page.Offset > 0 {
		query += ` OFFSET ` + arg(page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search refunds: %w", err)
	}
	defer rows.Close()

	var out []*refund.Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}
	return out, nil
}

// Close releases the pool when this store owns it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// Package repository is the PostgreSQL implementation of storage.Store.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

const uniqueViolation = "23505"

// RecordRepository stores each document record as JSONB. Update takes a row
// lock, so writers of one document are serialized across processes.
type RecordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository constructs a repository.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

var _ storage.Store = (*RecordRepository)(nil)

// Create inserts a new record and its tracking ids.
func (r *RecordRepository) Create(ctx context.Context, rec storage.Record) (storage.Record, error) {
	if rec.Document.ID == "" {
		return storage.Record{}, fmt.Errorf("create record: missing id")
	}
	now := time.Now().UTC()
	if rec.Document.CreatedAt.IsZero() {
		rec.Document.CreatedAt = now
	}
	if rec.Document.UpdatedAt.IsZero() {
		rec.Document.UpdatedAt = rec.Document.CreatedAt
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshal record: %w", err)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.Record{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	_, err = tx.Exec(ctx, `
		INSERT INTO document_records (id, transaction_id, created_at, updated_at, record)
		VALUES ($1,$2,$3,$4,$5)
	`, rec.Document.ID, rec.Document.TransactionID, rec.Document.CreatedAt, rec.Document.UpdatedAt, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.Record{}, fmt.Errorf("create %s: %w", rec.Document.ID, storage.ErrExists)
		}
		return storage.Record{}, fmt.Errorf("insert record: %w", err)
	}
	if err := indexTracking(ctx, tx, rec); err != nil {
		return storage.Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// Get returns a record by id.
func (r *RecordRepository) Get(ctx context.Context, id string) (storage.Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT record FROM document_records WHERE id=$1`, id)
	return scanRecord(row, id)
}

// Update loads the record under SELECT ... FOR UPDATE, applies fn and writes
// the result back in the same transaction.
func (r *RecordRepository) Update(ctx context.Context, id string, fn storage.UpdateFunc) (storage.Record, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.Record{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT record FROM document_records WHERE id=$1 FOR UPDATE`, id), id)
	if err != nil {
		return storage.Record{}, err
	}
	if err := fn(&rec); err != nil {
		return storage.Record{}, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshal record: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE document_records
		SET transaction_id=$1, updated_at=$2, record=$3
		WHERE id=$4
	`, rec.Document.TransactionID, rec.Document.UpdatedAt, data, id)
	if err != nil {
		return storage.Record{}, fmt.Errorf("update record: %w", err)
	}
	if err := indexTracking(ctx, tx, rec); err != nil {
		return storage.Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// ListByTransaction returns the ids of a transaction ordered by creation.
func (r *RecordRepository) ListByTransaction(ctx context.Context, transactionID string) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM document_records WHERE transaction_id=$1 ORDER BY created_at, id`, transactionID)
}

// IDs returns every stored id in lexical order.
func (r *RecordRepository) IDs(ctx context.Context) ([]string, error) {
	return r.ids(ctx, `SELECT id FROM document_records ORDER BY id`)
}

// FindByTracking maps a verification tracking id back to its document.
func (r *RecordRepository) FindByTracking(ctx context.Context, trackingID string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT document_id FROM verification_tracking WHERE tracking_id=$1`, trackingID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("tracking %s: %w", trackingID, model.ErrNotFound)
		}
		return "", fmt.Errorf("select tracking: %w", err)
	}
	return id, nil
}

func (r *RecordRepository) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan ids: %w", err)
	}
	return ids, nil
}

func scanRecord(row pgx.Row, id string) (storage.Record, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Record{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
		}
		return storage.Record{}, fmt.Errorf("select record: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return storage.Record{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

func indexTracking(ctx context.Context, tx pgx.Tx, rec storage.Record) error {
	for _, t := range rec.TrackingIDs() {
		_, err := tx.Exec(ctx, `
			INSERT INTO verification_tracking (tracking_id, document_id)
			VALUES ($1,$2) ON CONFLICT (tracking_id) DO NOTHING
		`, t, rec.Document.ID)
		if err != nil {
			return fmt.Errorf("index tracking %s: %w", t, err)
		}
	}
	return nil
}

// Package storage persists orders, gateway notifications, and idempotency
// keys in SQLite. Tokens and signing keys are never written here; both are
// process-memory only.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// ErrIdempotencyConflict indicates a key is reused with a different payload.
var ErrIdempotencyConflict = errors.New("idempotency key conflict")

// Order lifecycle states.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Store persists connector state in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and initialises) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
            id TEXT PRIMARY KEY,
            merch_order_id TEXT NOT NULL UNIQUE,
            title TEXT NOT NULL,
            amount TEXT NOT NULL,
            currency TEXT NOT NULL,
            contract_no TEXT,
            status TEXT NOT NULL,
            prepay_id TEXT,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            received_at TIMESTAMP NOT NULL,
            merch_order_id TEXT NOT NULL,
            trade_status TEXT NOT NULL,
            verified INTEGER NOT NULL,
            payload BLOB
        );`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
            key TEXT PRIMARY KEY,
            request_hash TEXT NOT NULL,
            response_status INTEGER NOT NULL,
            response_body BLOB NOT NULL,
            created_at TIMESTAMP NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// OrderRecord describes a persisted order.
type OrderRecord struct {
	ID           string
	MerchOrderID string
	Title        string
	Amount       string
	Currency     string
	ContractNo   sql.NullString
	Status       string
	PrepayID     sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InsertOrder persists a new order.
func (s *Store) InsertOrder(ctx context.Context, ord OrderRecord) error {
	const stmt = `INSERT INTO orders(id, merch_order_id, title, amount, currency, contract_no, status, prepay_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, ord.ID, ord.MerchOrderID, ord.Title, ord.Amount, ord.Currency,
		ord.ContractNo, ord.Status, ord.PrepayID, ord.CreatedAt, ord.UpdatedAt)
	return err
}

// GetOrder returns the order with the given connector id, or nil.
func (s *Store) GetOrder(ctx context.Context, id string) (*OrderRecord, error) {
	const query = `SELECT id, merch_order_id, title, amount, currency, contract_no, status, prepay_id, created_at, updated_at
        FROM orders WHERE id = ?`
	return scanOrder(s.db.QueryRowContext(ctx, query, id))
}

// GetOrderByMerchID returns the order with the given merchant order id, or nil.
func (s *Store) GetOrderByMerchID(ctx context.Context, merchOrderID string) (*OrderRecord, error) {
	const query = `SELECT id, merch_order_id, title, amount, currency, contract_no, status, prepay_id, created_at, updated_at
        FROM orders WHERE merch_order_id = ?`
	return scanOrder(s.db.QueryRowContext(ctx, query, merchOrderID))
}

func scanOrder(row *sql.Row) (*OrderRecord, error) {
	var rec OrderRecord
	err := row.Scan(&rec.ID, &rec.MerchOrderID, &rec.Title, &rec.Amount, &rec.Currency,
		&rec.ContractNo, &rec.Status, &rec.PrepayID, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateOrderStatus transitions an order, optionally recording the prepay id.
func (s *Store) UpdateOrderStatus(ctx context.Context, id, status string, prepayID *string) error {
	const stmt = `UPDATE orders SET status = ?, prepay_id = COALESCE(?, prepay_id), updated_at = ? WHERE id = ?`
	var prepay interface{}
	if prepayID != nil {
		prepay = *prepayID
	}
	_, err := s.db.ExecContext(ctx, stmt, status, prepay, time.Now().UTC(), id)
	return err
}

// NotificationRecord captures an inbound gateway notification.
type NotificationRecord struct {
	ReceivedAt   time.Time
	MerchOrderID string
	TradeStatus  string
	Verified     bool
	Payload      []byte
}

// InsertNotification records an inbound notification, verified or not.
func (s *Store) InsertNotification(ctx context.Context, rec NotificationRecord) error {
	const stmt = `INSERT INTO notifications(received_at, merch_order_id, trade_status, verified, payload) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, rec.ReceivedAt, rec.MerchOrderID, rec.TradeStatus, rec.Verified, rec.Payload)
	return err
}

// StoredResponse captures an idempotent response.
type StoredResponse struct {
	Status int
	Body   []byte
}

// LookupIdempotency returns the stored response for key, nil when unseen, or
// ErrIdempotencyConflict when the key was used with a different payload.
func (s *Store) LookupIdempotency(ctx context.Context, key, hash string) (*StoredResponse, error) {
	const query = `SELECT response_status, response_body, request_hash FROM idempotency_keys WHERE key = ?`
	row := s.db.QueryRowContext(ctx, query, key)
	var status int
	var body []byte
	var storedHash string
	err := row.Scan(&status, &body, &storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if storedHash != hash {
		return nil, ErrIdempotencyConflict
	}
	return &StoredResponse{Status: status, Body: body}, nil
}

// SaveIdempotency stores the response served for key.
func (s *Store) SaveIdempotency(ctx context.Context, key, hash string, status int, body []byte) error {
	const stmt = `INSERT OR REPLACE INTO idempotency_keys(key, request_hash, response_status, response_body, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, key, hash, status, body, time.Now().UTC())
	return err
}

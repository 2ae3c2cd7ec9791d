package transaction

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id                    VARCHAR(40) PRIMARY KEY,
			sender_id             VARCHAR(40) NOT NULL,
			sender_account        VARCHAR(12) NOT NULL,
			sender_name           TEXT NOT NULL,
			recipient_id          VARCHAR(40) NOT NULL,
			recipient_account     VARCHAR(12) NOT NULL,
			recipient_name        TEXT NOT NULL,
			ifsc                  VARCHAR(11),
			amount                BIGINT NOT NULL,
			purpose               TEXT,
			note                  TEXT,
			channel               VARCHAR(16) NOT NULL,
			ledger_ref            TEXT,
			risk_score            INT NOT NULL DEFAULT 0,
			sender_balance_after  BIGINT NOT NULL,
			created_at            TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_txns_sender ON transactions(sender_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_txns_recipient ON transactions(recipient_id, created_at DESC);
	`)
	return err
}

const txnColumns = `
	id, sender_id, sender_account, sender_name,
	recipient_id, recipient_account, recipient_name, ifsc,
	amount, purpose, note, channel, ledger_ref, risk_score,
	sender_balance_after, created_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		t.ID, t.SenderID, t.SenderAccount, t.SenderName,
		t.RecipientID, t.RecipientAccount, t.RecipientName, t.IFSC,
		t.Amount, t.Purpose, t.Note, string(t.Channel), t.LedgerRef, t.RiskScore,
		t.SenderBalanceAfter, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTxn(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE sender_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTxn(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Stats(ctx context.Context, userID string, since time.Time) (*Stats, error) {
	stats := &Stats{}
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE sender_id = $1),
			COUNT(*) FILTER (WHERE recipient_id = $1),
			COALESCE(SUM(amount) FILTER (WHERE sender_id = $1), 0),
			COALESCE(SUM(amount) FILTER (WHERE recipient_id = $1), 0)
		FROM transactions
		WHERE (sender_id = $1 OR recipient_id = $1) AND created_at >= $2
	`, userID, since).Scan(&stats.Sent, &stats.Received, &stats.TotalSent, &stats.TotalReceived)
	if err != nil {
		return nil, fmt.Errorf("transaction stats: %w", err)
	}
	stats.Net = stats.TotalReceived - stats.TotalSent
	return stats, nil
}

func scanTxn(scan func(dest ...any) error) (*Transaction, error) {
	var (
		t                   Transaction
		ifsc, purpose, note sql.NullString
		ledgerRef           sql.NullString
		channel             string
	)
	err := scan(
		&t.ID, &t.SenderID, &t.SenderAccount, &t.SenderName,
		&t.RecipientID, &t.RecipientAccount, &t.RecipientName, &ifsc,
		&t.Amount, &purpose, &note, &channel, &ledgerRef, &t.RiskScore,
		&t.SenderBalanceAfter, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.IFSC = ifsc.String
	t.Purpose = purpose.String
	t.Note = note.String
	t.Channel = Channel(channel)
	t.LedgerRef = ledgerRef.String
	return &t, nil
}

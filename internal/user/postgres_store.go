package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adityanair/sentinelbank/internal/risk"
	"github.com/adityanair/sentinelbank/internal/stepup"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id                       VARCHAR(40) PRIMARY KEY,
			email                    TEXT NOT NULL UNIQUE,
			name                     TEXT NOT NULL,
			password_hash            TEXT NOT NULL,
			account_number           VARCHAR(12) NOT NULL UNIQUE,
			ifsc_code                VARCHAR(11) NOT NULL,
			balance                  BIGINT NOT NULL DEFAULT 0,
			is_verified              BOOLEAN NOT NULL DEFAULT FALSE,
			last_login               TIMESTAMPTZ,
			login_code               VARCHAR(6),
			login_code_expires_at    TIMESTAMPTZ,
			transfer_code            VARCHAR(6),
			transfer_code_expires_at TIMESTAMPTZ,
			pending_transfer         JSONB,
			reset_token              TEXT,
			reset_expires_at         TIMESTAMPTZ,
			failed_login_attempts    INT NOT NULL DEFAULT 0,
			locked_until             TIMESTAMPTZ,
			trusted_ips              TEXT[] NOT NULL DEFAULT '{}',
			trusted_devices          TEXT[] NOT NULL DEFAULT '{}',
			locations                JSONB NOT NULL DEFAULT '[]',
			behavioral               JSONB NOT NULL DEFAULT '{}',
			context_logs             JSONB NOT NULL DEFAULT '[]',
			risk_score               INT NOT NULL DEFAULT 0,
			version                  BIGINT NOT NULL DEFAULT 1,
			created_at               TIMESTAMPTZ DEFAULT NOW(),
			updated_at               TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
		CREATE INDEX IF NOT EXISTS idx_users_account ON users(account_number);
		CREATE INDEX IF NOT EXISTS idx_users_reset_token ON users(reset_token);
	`)
	return err
}

const userColumns = `
	id, email, name, password_hash, account_number, ifsc_code, balance,
	is_verified, last_login,
	login_code, login_code_expires_at,
	transfer_code, transfer_code_expires_at, pending_transfer,
	reset_token, reset_expires_at,
	failed_login_attempts, locked_until,
	trusted_ips, trusted_devices, locations, behavioral, context_logs, risk_score,
	version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Version = 1

	pending, err := marshalPending(u.PendingTransfer)
	if err != nil {
		return err
	}
	locations, behavioral, logs, err := marshalProfile(&u.Profile)
	if err != nil {
		return err
	}

	loginCode, loginExp := challengeColumns(u.LoginCode)
	transferCode, transferExp := challengeColumns(u.TransferCode)

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7,
			$8, $9,
			$10, $11,
			$12, $13, $14,
			$15, $16,
			$17, $18,
			$19, $20, $21, $22, $23, $24,
			$25, $26, $27)
	`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.AccountNumber, u.IFSCCode, u.Balance,
		u.IsVerified, nullTime(u.LastLogin),
		loginCode, loginExp,
		transferCode, transferExp, pending,
		nullString(u.ResetToken), nullTime(u.ResetExpiresAt),
		u.FailedLoginAttempts, u.LockedUntil,
		pq.Array(u.Profile.TrustedIPs), pq.Array(u.Profile.TrustedDevices),
		locations, behavioral, logs, u.Profile.RiskScore,
		u.Version, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case "users_account_number_key":
				return ErrAccountTaken
			default:
				return ErrEmailTaken
			}
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	return p.getWhere(ctx, "id = $1", id)
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.getWhere(ctx, "email = LOWER($1)", email)
}

func (p *PostgresStore) GetByAccountNumber(ctx context.Context, account string) (*User, error) {
	return p.getWhere(ctx, "account_number = $1", account)
}

func (p *PostgresStore) GetByResetToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return p.getWhere(ctx, "reset_token = $1", token)
}

func (p *PostgresStore) getWhere(ctx context.Context, cond string, arg any) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+cond, arg)
	return scanUser(row)
}

func (p *PostgresStore) Update(ctx context.Context, u *User) error {
	pending, err := marshalPending(u.PendingTransfer)
	if err != nil {
		return err
	}
	locations, behavioral, logs, err := marshalProfile(&u.Profile)
	if err != nil {
		return err
	}
	loginCode, loginExp := challengeColumns(u.LoginCode)
	transferCode, transferExp := challengeColumns(u.TransferCode)

	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET
			email = LOWER($3), name = $4, password_hash = $5,
			balance = $6, is_verified = $7, last_login = $8,
			login_code = $9, login_code_expires_at = $10,
			transfer_code = $11, transfer_code_expires_at = $12, pending_transfer = $13,
			reset_token = $14, reset_expires_at = $15,
			failed_login_attempts = $16, locked_until = $17,
			trusted_ips = $18, trusted_devices = $19,
			locations = $20, behavioral = $21, context_logs = $22, risk_score = $23,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`,
		u.ID, u.Version, u.Email, u.Name, u.PasswordHash,
		u.Balance, u.IsVerified, nullTime(u.LastLogin),
		loginCode, loginExp,
		transferCode, transferExp, pending,
		nullString(u.ResetToken), nullTime(u.ResetExpiresAt),
		u.FailedLoginAttempts, u.LockedUntil,
		pq.Array(u.Profile.TrustedIPs), pq.Array(u.Profile.TrustedDevices),
		locations, behavioral, logs, u.Profile.RiskScore,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is gone or the version moved under us.
		if _, getErr := p.GetByID(ctx, u.ID); getErr != nil {
			return ErrNotFound
		}
		return ErrConcurrentModified
	}
	u.Version++
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Transfer(ctx context.Context, senderID, recipientID string, amount int64) error {
	if amount <= 0 {
		return ErrNegativeAmount
	}
	if senderID == recipientID {
		return ErrSelfTransfer
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE id = $1 FOR UPDATE`, senderID).Scan(&balance)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock sender: %w", err)
	}
	if balance < amount {
		return ErrInsufficientFunds
	}

	// Both rows bump their version so a stale full-record Update (whose
	// snapshot predates this transfer) fails the version check instead of
	// silently reverting the balance movement.
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET balance = balance + $2, version = version + 1, updated_at = NOW() WHERE id = $1`,
		recipientID, amount)
	if err != nil {
		return fmt.Errorf("credit recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET balance = balance - $2, version = version + 1, updated_at = NOW() WHERE id = $1`,
		senderID, amount)
	if err != nil {
		return fmt.Errorf("debit sender: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// marshalling helpers
// ---------------------------------------------------------------------------

func challengeColumns(c *stepup.Challenge) (sql.NullString, sql.NullTime) {
	if c == nil {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: c.Code, Valid: true},
		sql.NullTime{Time: c.ExpiresAt, Valid: true}
}

func marshalPending(p *PendingTransfer) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal pending transfer: %w", err)
	}
	return b, nil
}

func marshalProfile(p *risk.TrustProfile) (locations, behavioral, logs []byte, err error) {
	if locations, err = json.Marshal(orEmpty(p.Locations)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal locations: %w", err)
	}
	if behavioral, err = json.Marshal(p.Behavioral); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal behavioral profile: %w", err)
	}
	if logs, err = json.Marshal(orEmpty(p.ContextLogs)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal context logs: %w", err)
	}
	return locations, behavioral, logs, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u                        User
		lastLogin                sql.NullTime
		loginCode, transferCode  sql.NullString
		loginExp, transferExp    sql.NullTime
		pending                  []byte
		resetToken               sql.NullString
		resetExp                 sql.NullTime
		locations, behav, clogs  []byte
		trustedIPs, trustedDevcs []string
	)

	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.AccountNumber, &u.IFSCCode, &u.Balance,
		&u.IsVerified, &lastLogin,
		&loginCode, &loginExp,
		&transferCode, &transferExp, &pending,
		&resetToken, &resetExp,
		&u.FailedLoginAttempts, &u.LockedUntil,
		pq.Array(&trustedIPs), pq.Array(&trustedDevcs),
		&locations, &behav, &clogs, &u.Profile.RiskScore,
		&u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.LastLogin = lastLogin.Time
	if loginCode.Valid && loginExp.Valid {
		u.LoginCode = &stepup.Challenge{Code: loginCode.String, ExpiresAt: loginExp.Time}
	}
	if transferCode.Valid && transferExp.Valid {
		u.TransferCode = &stepup.Challenge{Code: transferCode.String, ExpiresAt: transferExp.Time}
	}
	if len(pending) > 0 {
		var pt PendingTransfer
		if err := json.Unmarshal(pending, &pt); err != nil {
			return nil, fmt.Errorf("unmarshal pending transfer: %w", err)
		}
		u.PendingTransfer = &pt
	}
	u.ResetToken = resetToken.String
	u.ResetExpiresAt = resetExp.Time
	u.Profile.TrustedIPs = trustedIPs
	u.Profile.TrustedDevices = trustedDevcs
	if err := json.Unmarshal(locations, &u.Profile.Locations); err != nil {
		return nil, fmt.Errorf("unmarshal locations: %w", err)
	}
	if err := json.Unmarshal(behav, &u.Profile.Behavioral); err != nil {
		return nil, fmt.Errorf("unmarshal behavioral profile: %w", err)
	}
	if err := json.Unmarshal(clogs, &u.Profile.ContextLogs); err != nil {
		return nil, fmt.Errorf("unmarshal context logs: %w", err)
	}

	return &u, nil
}

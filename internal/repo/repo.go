package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flightsurety/internal/config"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so every query can join the
// caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const (
	settingConfig      = "config"
	settingSeed        = "oracle.seed"
	settingOracleNonce = "oracle.nonce"
)

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func optional(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r Repo) getSetting(ctx context.Context, q DBTX, key string) (string, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func (r Repo) putSetting(ctx context.Context, q DBTX, key, value string) error {
	now := nowString()
	_, err := q.ExecContext(ctx, `INSERT INTO settings(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, now)
	return err
}

// PutConfig persists the installed configuration.
func (r Repo) PutConfig(ctx context.Context, q DBTX, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.putSetting(ctx, q, settingConfig, string(payload))
}

func (r Repo) GetConfig(ctx context.Context, q DBTX) (*config.Config, error) {
	payload, err := r.getSetting(ctx, q, settingConfig)
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("decode installed config: %w", err)
	}
	return &cfg, cfg.Validate()
}

func (r Repo) PutSeed(ctx context.Context, q DBTX, seed string) error {
	return r.putSetting(ctx, q, settingSeed, seed)
}

func (r Repo) GetSeed(ctx context.Context, q DBTX) (string, error) {
	return r.getSetting(ctx, q, settingSeed)
}

// NextNonce increments and returns the persisted oracle entropy counter.
func (r Repo) NextNonce(ctx context.Context, q DBTX) (uint64, error) {
	var n uint64
	raw, err := r.getSetting(ctx, q, settingOracleNonce)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	if err == nil {
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
			return 0, fmt.Errorf("decode nonce: %w", err)
		}
	}
	n++
	if err := r.putSetting(ctx, q, settingOracleNonce, fmt.Sprintf("%d", n)); err != nil {
		return 0, err
	}
	return n, nil
}

// InitGuard seeds the operational guard row once.
func (r Repo) InitGuard(ctx context.Context, q DBTX, owner string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO guard(id,operational,owner,updated_at) VALUES (1,1,?,?)`, owner, nowString())
	return err
}

func (r Repo) GetGuard(ctx context.Context, q DBTX) (operational bool, owner string, err error) {
	var op int
	err = q.QueryRowContext(ctx, `SELECT operational, owner FROM guard WHERE id=1`).Scan(&op, &owner)
	if err == sql.ErrNoRows {
		return false, "", ErrNotFound
	}
	return op == 1, owner, err
}

func (r Repo) SetGuard(ctx context.Context, q DBTX, operational bool) error {
	res, err := q.ExecContext(ctx, `UPDATE guard SET operational=?, updated_at=? WHERE id=1`, boolInt(operational), nowString())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"flightsurety/internal/config"
	"flightsurety/internal/domain"
	"flightsurety/internal/events"
	"flightsurety/internal/observability"
	"flightsurety/internal/repo"
)

// Engine runs every platform operation against the ledger database. Each
// mutation is one transaction on the single ledger connection, so calls are
// totally ordered and either fully commit or leave no trace.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
	Logger  zerolog.Logger
	Payer   Payer
	Entropy IndexSource
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:      db,
		Repo:    r,
		Events:  events.Writer{},
		Config:  cfg,
		Now:     time.Now,
		Logger:  zerolog.Nop(),
		Payer:   LedgerPayer{Repo: r},
		Entropy: SHA256Indexes{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

var errConfigNotLoaded = errors.New("config not loaded; run flightsurety install")

// mutate runs fn in a transaction after checking the operational guard inside
// that same transaction.
func (e Engine) mutate(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	defer func() { e.record(op, err) }()
	if e.Config == nil {
		return errConfigNotLoaded
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.requireOperational(ctx, tx); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		e.Logger.Debug().Str("op", op).Err(err).Msg("operation rejected")
	}
	observability.RecordOperation(op, outcome)
}

func (e Engine) emit(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	return e.writer().Append(ctx, tx, evtType, entityKind, entityID, actorID, payload)
}

// LatestEvents returns the newest events first, filtered by any non-empty argument.
func (e Engine) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, e.DB, limit, evtType, entityKind, entityID)
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"flightsurety/internal/events"
	"flightsurety/internal/repo"
)

var errNotInstalled = errors.New("platform not installed; run flightsurety install")

func (e Engine) IsOperational(ctx context.Context) (bool, error) {
	op, _, err := e.Repo.GetGuard(ctx, e.DB)
	if errors.Is(err, repo.ErrNotFound) {
		return false, errNotInstalled
	}
	return op, err
}

// Owner returns the identity allowed to toggle the guard.
func (e Engine) Owner(ctx context.Context) (string, error) {
	_, owner, err := e.Repo.GetGuard(ctx, e.DB)
	if errors.Is(err, repo.ErrNotFound) {
		return "", errNotInstalled
	}
	return owner, err
}

func (e Engine) requireOperational(ctx context.Context, q repo.DBTX) error {
	op, _, err := e.Repo.GetGuard(ctx, q)
	if errors.Is(err, repo.ErrNotFound) {
		return errNotInstalled
	}
	if err != nil {
		return fmt.Errorf("read guard: %w", err)
	}
	if !op {
		return ErrNotOperational
	}
	return nil
}

// SetOperatingStatus toggles the guard. It is the one mutation allowed while
// the platform is paused.
func (e Engine) SetOperatingStatus(ctx context.Context, caller string, operational bool) (err error) {
	defer func() { e.record("set_operating_status", err) }()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	current, owner, err := e.Repo.GetGuard(ctx, tx)
	if errors.Is(err, repo.ErrNotFound) {
		return errNotInstalled
	}
	if err != nil {
		return fmt.Errorf("read guard: %w", err)
	}
	if caller == "" || caller != owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	if current == operational {
		return tx.Commit()
	}
	if err := e.Repo.SetGuard(ctx, tx, operational); err != nil {
		return fmt.Errorf("update guard: %w", err)
	}
	if err := e.emit(ctx, tx, events.GuardStatusChanged, "guard", "platform", caller, events.EventPayload{"operational": operational}); err != nil {
		return err
	}
	return tx.Commit()
}

package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"flightsurety/internal/domain"
	"flightsurety/internal/events"
	"flightsurety/internal/repo"
)

const apiKeyPrefix = "fsk_"

// CreateAPIKey issues a key that authenticates as caller. The plaintext is
// returned once; only its hash is stored. Keys can be managed while the
// platform is paused.
func (e Engine) CreateAPIKey(ctx context.Context, caller, name string) (domain.APIKey, string, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return domain.APIKey{}, "", errors.New("caller is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate key: %w", err)
	}
	secret := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		Caller:    caller,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("insert api key: %w", err)
	}
	if err := e.emit(ctx, tx, events.APIKeyCreated, "api_key", key.ID, caller, events.EventPayload{"name": key.Name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, caller string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, e.DB, strings.TrimSpace(caller))
}

// RevokeAPIKey deletes a key. Only its holder or the platform owner may do so.
func (e Engine) RevokeAPIKey(ctx context.Context, caller, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	keys, err := e.Repo.ListAPIKeys(ctx, tx, "")
	if err != nil {
		return err
	}
	var found *domain.APIKey
	for i := range keys {
		if keys[i].ID == id {
			found = &keys[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("%w: %s", ErrAPIKeyNotFound, id)
	}
	if found.Caller != caller {
		_, owner, err := e.Repo.GetGuard(ctx, tx)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotInstalled
		}
		if err != nil {
			return fmt.Errorf("read guard: %w", err)
		}
		if caller != owner {
			return fmt.Errorf("%w: key belongs to %s", ErrUnauthorized, found.Caller)
		}
	}
	if err := e.Repo.DeleteAPIKey(ctx, tx, id); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if err := e.emit(ctx, tx, events.APIKeyRevoked, "api_key", id, caller, events.EventPayload{"holder": found.Caller}); err != nil {
		return err
	}
	return tx.Commit()
}

// AuthenticateAPIKey resolves a plaintext key to the caller it was issued to.
func (e Engine) AuthenticateAPIKey(ctx context.Context, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("api key required")
	}
	key, err := e.Repo.GetAPIKeyByHash(ctx, e.DB, repo.HashAPIKey(secret))
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrAPIKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return key.Caller, nil
}

package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"flightsurety/internal/config"
	"flightsurety/internal/domain"
	"flightsurety/internal/events"
	"flightsurety/internal/migrate"
	"flightsurety/internal/repo"
)

const PlatformInstalled = "platform.installed"

// Install migrates the ledger and seeds the owner guard, the configuration,
// the genesis airline and the oracle entropy seed. Installing twice keeps the
// first configuration: economic constants are fixed once the ledger exists.
func Install(ctx context.Context, conn *sql.DB, cfg *config.Config) (*config.Config, bool, error) {
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return nil, false, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	if existing, err := r.GetConfig(ctx, conn); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}
	if cfg == nil {
		return nil, false, errors.New("config required for first install")
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	seed := cfg.Oracles.Seed
	if seed == "" {
		var err error
		if seed, err = randomSeed(); err != nil {
			return nil, false, fmt.Errorf("generate seed: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()
	if err := r.PutConfig(ctx, tx, cfg); err != nil {
		return nil, false, fmt.Errorf("store config: %w", err)
	}
	if err := r.InitGuard(ctx, tx, cfg.Platform.Owner); err != nil {
		return nil, false, fmt.Errorf("init guard: %w", err)
	}
	if err := r.PutSeed(ctx, tx, seed); err != nil {
		return nil, false, fmt.Errorf("store seed: %w", err)
	}
	genesis := domain.Airline{
		Address:      cfg.Platform.GenesisAirline.Address,
		Name:         domain.CanonicalName(cfg.Platform.GenesisAirline.Name),
		Registered:   true,
		ProposedBy:   cfg.Platform.Owner,
		CreatedAt:    now,
		RegisteredAt: &now,
	}
	if genesis.Name == "" {
		genesis.Name = genesis.Address
	}
	if err := r.InsertAirline(ctx, tx, genesis); err != nil {
		return nil, false, fmt.Errorf("insert genesis airline: %w", err)
	}
	w := events.Writer{}
	if err := w.Append(ctx, tx, PlatformInstalled, "guard", "platform", cfg.Platform.Owner,
		events.EventPayload{"owner": cfg.Platform.Owner, "genesis_airline": genesis.Address}); err != nil {
		return nil, false, err
	}
	if err := w.Append(ctx, tx, events.AirlineRegistered, "airline", genesis.Address, cfg.Platform.Owner,
		events.EventPayload{"votes": 0, "genesis": true}); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// ResolveConfig returns the installed configuration.
func ResolveConfig(ctx context.Context, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx, r.DB)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errors.New("ledger not installed; run flightsurety install")
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func randomSeed() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightsurety/internal/config"
	"flightsurety/internal/db"
	"flightsurety/internal/repo"
)

func TestInstallIsOnce(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn}

	_, err = ResolveConfig(ctx, r)
	require.Error(t, err, "nothing installed yet")

	cfg := config.Default("owner")
	installed, fresh, err := Install(ctx, conn, cfg)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, "owner", installed.Platform.Owner)

	seed, err := r.GetSeed(ctx, conn)
	require.NoError(t, err)
	assert.Len(t, seed, 64, "empty configured seed is replaced by 32 random bytes")

	genesis, err := r.GetAirline(ctx, conn, cfg.Platform.GenesisAirline.Address)
	require.NoError(t, err)
	assert.True(t, genesis.Registered)
	assert.False(t, genesis.Funded)

	other := config.Default("someone-else")
	again, fresh, err := Install(ctx, conn, other)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, "owner", again.Platform.Owner, "installed economics are immutable")

	resolved, err := ResolveConfig(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, installed.Governance, resolved.Governance)

	evts, err := r.LatestEvents(ctx, conn, 10, PlatformInstalled, "", "")
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestInstallKeepsConfiguredSeed(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	cfg := config.Default("owner")
	cfg.Oracles.Seed = "fixed-seed"
	_, _, err = Install(ctx, conn, cfg)
	require.NoError(t, err)
	seed, err := repo.Repo{DB: conn}.GetSeed(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, "fixed-seed", seed)
}

func TestInstallRejectsInvalidConfig(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	cfg := config.Default("")
	_, _, err = Install(context.Background(), conn, cfg)
	require.Error(t, err)
}

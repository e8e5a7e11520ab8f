package store_test

import (
	"context"
	"testing"

	"github.com/kiranshivaraju/agentscore/internal/config"
	"github.com/kiranshivaraju/agentscore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_InvalidURL(t *testing.T) {
	_, err := store.Connect(context.Background(), config.DatabaseConfig{URL: "not-a-valid-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database URL")
}

func TestConnect_AgainstContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	url := startPostgres(t)

	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: url, MaxOpenConns: 4, MaxIdleConns: 10})
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, int32(4), pool.Config().MaxConns)
	assert.Equal(t, int32(4), pool.Config().MinConns)

	var app string
	require.NoError(t, pool.QueryRow(ctx, "SELECT current_setting('application_name')").Scan(&app))
	assert.Equal(t, "agentscore", app)
}

package routing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

func TestWatchCatalogReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_tier: balanced\n"), 0o600))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	svc := NewConfigService(newMemStore(), catalog)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchCatalog(ctx, path, svc) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// give the watcher time to register
	time.Sleep(50 * time.Millisecond)

	// a broken file keeps the previous catalog
	require.NoError(t, os.WriteFile(path, []byte("default_tier: huge\n"), 0o600))
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, models.TierBalanced, svc.Catalog().DefaultTier)

	require.NoError(t, os.WriteFile(path, []byte("default_tier: cheap\n"), 0o600))
	assert.Eventually(t, func() bool {
		return svc.Catalog().DefaultTier == models.TierCheap
	}, 3*time.Second, 20*time.Millisecond)

	cfg, err := svc.GetConfig(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierCheap, cfg.DefaultTier)
}

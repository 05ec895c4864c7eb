package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baza-td/stroyparser/internal/store"
)

func TestDefaultCities(t *testing.T) {
	t.Parallel()

	cities, err := DefaultCities()
	require.NoError(t, err)
	require.Len(t, cities, 13)

	byName := make(map[string]int)
	for _, c := range cities {
		byName[c.Name] = c.Ring
	}
	assert.Equal(t, 1, byName["Самара"])
	assert.Equal(t, 2, byName["Казань"])
	assert.Equal(t, 4, byName["Екатеринбург"])
}

func TestLoad_OverrideFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: Тестоград\n  ring: 1\n  distance_km: 5\n"), 0o600))

	cities, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cities, 1)
	assert.Equal(t, "Тестоград", cities[0].Name)
}

func TestLoad_RejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: Безкольца\n  distance_km: 5\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApply_SeedsOnlyEmptyTable(t *testing.T) {
	t.Parallel()

	gw, err := store.NewSQLite(filepath.Join(t.TempDir(), "seed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })
	ctx := context.Background()
	require.NoError(t, gw.Migrate(ctx))

	cities, err := DefaultCities()
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, gw, cities))

	got, err := gw.ListCities(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 13)

	// A second apply with a different table must not clobber operator data.
	require.NoError(t, Apply(ctx, gw, cities[:1]))
	got, err = gw.ListCities(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 13)
}

package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	cache, err := OpenCache()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cache.Close()
	})
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := openTestCache(t)

	fhs := t.TempDir()
	key := packagesKey(t, []string{"gcc", "gdb"})
	require.NoError(t, cache.Store(key, &Environment{Name: "tools", FhsPath: fhs}))

	env, ok := cache.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "tools", env.Name)
	assert.Equal(t, fhs, env.FhsPath)
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	cache := openTestCache(t)

	_, ok := cache.Lookup([]byte("unknown"))
	assert.False(t, ok)
}

func TestCacheMissWhenTreeVanished(t *testing.T) {
	cache := openTestCache(t)

	key := packagesKey(t, []string{"gcc"})
	gone := filepath.Join(t.TempDir(), "collected")
	require.NoError(t, cache.Store(key, &Environment{Name: "tools", FhsPath: gone}))

	_, ok := cache.Lookup(key)
	assert.False(t, ok)
}

func TestSpecKeyPackagesOrderInsensitive(t *testing.T) {
	a, err := specKey(&Spec{Packages: []string{"gcc", "gdb"}})
	require.NoError(t, err)
	b, err := specKey(&Spec{Packages: []string{"gdb", "gcc"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSpecKeyRecipeContentSensitive(t *testing.T) {
	recipe := filepath.Join(t.TempDir(), "shell.nix")
	require.NoError(t, os.WriteFile(recipe, []byte("{ }: 1"), 0o644))

	before, err := specKey(&Spec{Recipe: recipe})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(recipe, []byte("{ }: 2"), 0o644))
	after, err := specKey(&Spec{Recipe: recipe})
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestSpecKeyMissingRecipe(t *testing.T) {
	_, err := specKey(&Spec{Recipe: filepath.Join(t.TempDir(), "nope.nix")})
	require.Error(t, err)
}

// packagesKey derives a package-list fingerprint for fixtures.
func packagesKey(t *testing.T, pkgs []string) []byte {
	t.Helper()
	key, err := specKey(&Spec{Packages: pkgs})
	require.NoError(t, err)
	return key
}

package envimage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	appcfg "git.home.fjellstad.io/blog/blogpipe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_NoDescriptorIsNoop(t *testing.T) {
	b := NewBuilder(appcfg.EnvironmentConfig{DataDir: t.TempDir()})
	hash, err := b.EnsureImage(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestBuilder_StaleDetection(t *testing.T) {
	env := sampleEnv()
	env.DataDir = t.TempDir()
	b := NewBuilder(env)

	stale, current, err := b.Stale()
	require.NoError(t, err)
	assert.True(t, stale, "no cached hash means stale")

	// Record the current hash; the builder must now consider itself fresh.
	require.NoError(t, b.recordHash(current))
	stale, _, err = b.Stale()
	require.NoError(t, err)
	assert.False(t, stale)

	// A descriptor change flips it back to stale.
	env.Packages = append(env.Packages, "make")
	b2 := NewBuilder(env)
	stale, _, err = b2.Stale()
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestBuilder_EnsureImageSkipsWhenFresh(t *testing.T) {
	// Use a container tool that would fail loudly if invoked; a fresh cache
	// must short-circuit before any subprocess runs.
	env := sampleEnv()
	env.DataDir = t.TempDir()
	env.ContainerTool = "/nonexistent/container-tool"
	b := NewBuilder(env)

	_, current, err := b.Stale()
	require.NoError(t, err)
	require.NoError(t, b.recordHash(current))

	hash, err := b.EnsureImage(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, current, hash)
}

func TestBuilder_CachedHashMissing(t *testing.T) {
	env := sampleEnv()
	env.DataDir = filepath.Join(t.TempDir(), "does-not-exist")
	assert.Empty(t, NewBuilder(env).CachedHash())
}

func TestBuilder_RecordHashCreatesDataDir(t *testing.T) {
	env := sampleEnv()
	env.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	b := NewBuilder(env)

	require.NoError(t, b.recordHash("abc"))
	data, err := os.ReadFile(filepath.Join(env.DataDir, hashFileName))
	require.NoError(t, err)
	assert.Equal(t, "abc\n", string(data))
}

package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePost(t *testing.T, dir, name, content string) {
	t.Helper()
	full := filepath.Join(dir, "_posts", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newChecker(strict bool) *Checker {
	return NewChecker(config.PreflightConfig{
		ContentDir:   "_posts",
		RequiredKeys: []string{"title"},
		Strict:       strict,
	})
}

func TestCheck_ValidPost(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "2026-08-20-hello.md", "---\ntitle: Hello\ndate: 2026-08-20\n---\nSome body text.\n")

	findings, err := newChecker(false).Check(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCheck_MissingFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "bare.md", "Just text, no front matter.\n")

	findings, err := newChecker(false).Check(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Problem, "missing front matter")
}

func TestCheck_MissingRequiredKey(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "untitled.md", "---\ndate: 2026-08-20\n---\nBody.\n")

	findings, err := newChecker(false).Check(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Problem, "title")
}

func TestCheck_UnclosedFrontMatter(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "broken.md", "---\ntitle: Oops\nBody without closing delimiter.\n")

	findings, err := newChecker(false).Check(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Problem, "closing delimiter")
}

func TestCheck_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "badyaml.md", "---\ntitle: [unclosed\n---\nBody.\n")

	findings, err := newChecker(false).Check(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Problem, "invalid front matter")
}

func TestCheck_EmptyBody(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "stub.md", "---\ntitle: Stub\n---\n\n")

	findings, err := newChecker(false).Check(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Problem, "empty post body")
}

func TestCheck_MissingContentDirIsFine(t *testing.T) {
	findings, err := newChecker(false).Check(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCheck_IgnoresNonMarkdown(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "notes.txt", "no front matter but not a post")

	findings, err := newChecker(false).Check(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestHook_StrictFailsLenientPasses(t *testing.T) {
	dir := t.TempDir()
	writePost(t, dir, "untitled.md", "---\ndate: 2026-08-20\n---\nBody.\n")

	assert.NoError(t, newChecker(false).Hook()(context.Background(), dir))

	err := newChecker(true).Hook()(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title")
}

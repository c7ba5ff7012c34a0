package linkcheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSiteFile(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func check(t *testing.T, root string) []Broken {
	t.Helper()
	broken, err := NewChecker(config.LinkCheckConfig{}).Check(context.Background(), root)
	require.NoError(t, err)
	return broken
}

func TestCheck_ValidSite(t *testing.T) {
	root := t.TempDir()
	writeSiteFile(t, root, "index.html",
		`<html><body><a href="posts/hello/">post</a><a href="/about.html">about</a><img src="logo.png"></body></html>`)
	writeSiteFile(t, root, "posts/hello/index.html",
		`<html><body><a href="../../about.html#contact">contact</a></body></html>`)
	writeSiteFile(t, root, "about.html",
		`<html><body><h2 id="contact">Contact</h2><a href="#contact">top</a></body></html>`)
	writeSiteFile(t, root, "logo.png", "png")

	assert.Empty(t, check(t, root))
}

func TestCheck_MissingPage(t *testing.T) {
	root := t.TempDir()
	writeSiteFile(t, root, "index.html", `<html><body><a href="/gone.html">gone</a></body></html>`)

	broken := check(t, root)
	require.Len(t, broken, 1)
	assert.Equal(t, "index.html", broken[0].Page)
	assert.Equal(t, "/gone.html", broken[0].Link)
	assert.Contains(t, broken[0].Reason, "target not found")
}

func TestCheck_MissingAsset(t *testing.T) {
	root := t.TempDir()
	writeSiteFile(t, root, "index.html", `<html><body><img src="images/banner.jpg"></body></html>`)

	broken := check(t, root)
	require.Len(t, broken, 1)
	assert.Equal(t, "images/banner.jpg", broken[0].Link)
}

func TestCheck_MissingAnchorSamePage(t *testing.T) {
	root := t.TempDir()
	writeSiteFile(t, root, "index.html", `<html><body><a href="#nowhere">jump</a></body></html>`)

	broken := check(t, root)
	require.Len(t, broken, 1)
	assert.Contains(t, broken[0].Reason, "anchor not found")
}

func TestCheck_MissingAnchorOnTargetPage(t *testing.T) {
	root := t.TempDir()
	writeSiteFile(t, root, "index.html", `<html><body><a href="about.html#ghost">x</a></body></html>`)
	writeSiteFile(t, root, "about.html", `<html><body><h2 id="real">Real</h2></body></html>`)

	broken := check(t, root)
	require.Len(t, broken, 1)
	assert.Contains(t, broken[0].Reason, "anchor not found on target page")
}

func TestCheck_UnicodeAnchorNormalization(t *testing.T) {
	root := t.TempDir()
	// Link uses the decomposed form (e + combining acute), the page id the
	// precomposed form. These must compare equal.
	writeSiteFile(t, root, "index.html",
		"<html><body><a href=\"#café\">cafe</a><h2 id=\"café\">Café</h2></body></html>")

	assert.Empty(t, check(t, root))
}

func TestCheck_SkipsExternalAndSpecialLinks(t *testing.T) {
	root := t.TempDir()
	writeSiteFile(t, root, "index.html", `<html><body>
		<a href="https://example.com/else">ext</a>
		<a href="mailto:blog@example.com">mail</a>
		<a href="/index.xml">feed</a>
		<a href="/sitemap.xml">map</a>
	</body></html>`)

	assert.Empty(t, check(t, root))
}

func TestHook_StrictFailsLenientPasses(t *testing.T) {
	root := t.TempDir()
	writeSiteFile(t, root, "index.html", `<html><body><a href="/gone.html">gone</a></body></html>`)

	assert.NoError(t, NewChecker(config.LinkCheckConfig{}).Hook()(context.Background(), root))

	err := NewChecker(config.LinkCheckConfig{Strict: true}).Hook()(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.html")
}

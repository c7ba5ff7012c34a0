// Package linkcheck verifies internal links and anchors across a generated
// site tree before it is published. The check is entirely offline: only
// links resolving within the artifact are verified, external URLs are
// skipped.
package linkcheck

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	gopath "path"
	"path/filepath"
	"strings"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Broken is one unresolvable internal link.
type Broken struct {
	Page   string // site-relative page the link appears on
	Link   string // the raw href/src value
	Reason string
}

func (b Broken) String() string {
	return fmt.Sprintf("%s: %q %s", b.Page, b.Link, b.Reason)
}

// pageInfo is the extracted link surface of one HTML page.
type pageInfo struct {
	links   []string
	anchors map[string]struct{}
}

// Checker verifies the internal link graph of an artifact tree.
type Checker struct {
	strict bool
}

// NewChecker creates a checker from configuration.
func NewChecker(cfg config.LinkCheckConfig) *Checker {
	return &Checker{strict: cfg.Strict}
}

// Check walks the artifact tree and returns every broken internal link.
func (c *Checker) Check(ctx context.Context, artifactDir string) ([]Broken, error) {
	pages, err := collectPages(ctx, artifactDir)
	if err != nil {
		return nil, err
	}

	var broken []Broken
	for page, info := range pages {
		for _, link := range info.links {
			if b := resolve(artifactDir, pages, page, link); b != nil {
				broken = append(broken, *b)
			}
		}
	}
	return broken, nil
}

// Hook adapts the checker to the runner's stage hook shape. In strict mode
// broken links fail the run; otherwise they are logged and the run proceeds.
func (c *Checker) Hook() func(ctx context.Context, dir string) error {
	return func(ctx context.Context, dir string) error {
		broken, err := c.Check(ctx, dir)
		if err != nil {
			return err
		}
		for _, b := range broken {
			slog.Warn("Broken internal link", logfields.Path(b.Page), logfields.URL(b.Link), slog.String("reason", b.Reason))
		}
		if c.strict && len(broken) > 0 {
			return fmt.Errorf("%d broken internal link(s), first: %s", len(broken), broken[0])
		}
		return nil
	}
}

func collectPages(ctx context.Context, root string) (map[string]pageInfo, error) {
	pages := make(map[string]pageInfo)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".html") {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := parsePage(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", rel, err)
		}
		pages[filepath.ToSlash(rel)] = info
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pages, nil
}

func parsePage(path string) (pageInfo, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return pageInfo{}, err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return pageInfo{}, err
	}

	info := pageInfo{anchors: make(map[string]struct{})}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if id := getAttr(n, "id"); id != "" {
				info.anchors[normalizeAnchor(id)] = struct{}{}
			}
			switch n.Data {
			case "a", "link":
				if href := getAttr(n, "href"); href != "" {
					info.links = append(info.links, href)
				}
				if n.Data == "a" {
					if name := getAttr(n, "name"); name != "" {
						info.anchors[normalizeAnchor(name)] = struct{}{}
					}
				}
			case "img", "script", "video", "audio", "source":
				if src := getAttr(n, "src"); src != "" {
					info.links = append(info.links, src)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return info, nil
}

// resolve checks one link on a page; nil means the link is fine or out of scope.
func resolve(root string, pages map[string]pageInfo, page, link string) *Broken {
	if skipLink(link) {
		return nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return &Broken{Page: page, Link: link, Reason: "is not a valid URL"}
	}
	if u.Scheme != "" || u.Host != "" {
		return nil // external
	}

	// Same-page anchor.
	if u.Path == "" {
		if u.Fragment == "" {
			return nil
		}
		if _, ok := pages[page].anchors[normalizeAnchor(u.Fragment)]; !ok {
			return &Broken{Page: page, Link: link, Reason: "anchor not found"}
		}
		return nil
	}

	target := resolveTarget(pages, page, u.Path)
	if target == "" {
		// Non-HTML assets are checked directly on disk.
		if assetExists(root, page, u.Path) {
			return nil
		}
		return &Broken{Page: page, Link: link, Reason: "target not found"}
	}

	if u.Fragment != "" {
		if _, ok := pages[target].anchors[normalizeAnchor(u.Fragment)]; !ok {
			return &Broken{Page: page, Link: link, Reason: "anchor not found on target page"}
		}
	}
	return nil
}

// resolveTarget maps a link path to a known HTML page, or "" when none matches.
func resolveTarget(pages map[string]pageInfo, page, linkPath string) string {
	for _, candidate := range candidatePaths(page, linkPath) {
		if _, ok := pages[candidate]; ok {
			return candidate
		}
	}
	return ""
}

// candidatePaths expands a link into the site-relative files it could denote
// (the path itself, or a directory's index.html).
func candidatePaths(page, linkPath string) []string {
	var base string
	if strings.HasPrefix(linkPath, "/") {
		base = gopath.Clean(strings.TrimPrefix(linkPath, "/"))
	} else {
		base = gopath.Clean(gopath.Join(gopath.Dir(page), linkPath))
	}
	if base == "." || base == ".." || strings.HasPrefix(base, "../") {
		base = strings.TrimPrefix(base, "../")
	}

	candidates := []string{base}
	if strings.HasSuffix(linkPath, "/") || gopath.Ext(base) == "" {
		candidates = append(candidates, gopath.Join(base, "index.html"))
	}
	return candidates
}

func assetExists(root, page string, linkPath string) bool {
	for _, candidate := range candidatePaths(page, linkPath) {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(candidate))); err == nil {
			return true
		}
	}
	return false
}

// skipLink filters protocols and optional generator outputs that are not part
// of the internal link graph.
func skipLink(link string) bool {
	switch {
	case link == "", link == "/":
		return true
	case strings.HasPrefix(link, "mailto:"),
		strings.HasPrefix(link, "tel:"),
		strings.HasPrefix(link, "javascript:"),
		strings.HasPrefix(link, "data:"):
		return true
	}
	// Feeds, search indexes, and sitemaps are only present when the
	// corresponding generator feature is on.
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	p := u.Path
	return strings.HasSuffix(p, ".xml") ||
		strings.HasSuffix(p, ".json") ||
		strings.Contains(p, "sitemap") ||
		strings.HasSuffix(p, "robots.txt")
}

// normalizeAnchor canonicalizes fragments so accented anchors compare equal
// regardless of the Unicode form the generator emitted.
func normalizeAnchor(fragment string) string {
	if unescaped, err := url.PathUnescape(fragment); err == nil {
		fragment = unescaped
	}
	return norm.NFC.String(fragment)
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

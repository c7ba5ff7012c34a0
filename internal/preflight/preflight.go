// Package preflight validates blog posts before the build stages run. It
// catches the usual authoring mistakes (broken front matter, missing title)
// early, so a push with a malformed post fails fast instead of producing a
// half-rendered site.
package preflight

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.fjellstad.io/blog/blogpipe/internal/config"
	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Finding is one problem detected in a post.
type Finding struct {
	File    string
	Problem string
}

func (f Finding) String() string { return f.File + ": " + f.Problem }

// Checker validates the posts directory of a checkout.
type Checker struct {
	contentDir   string
	requiredKeys []string
	strict       bool
}

// NewChecker creates a checker from configuration.
func NewChecker(cfg config.PreflightConfig) *Checker {
	return &Checker{
		contentDir:   cfg.ContentDir,
		requiredKeys: cfg.RequiredKeys,
		strict:       cfg.Strict,
	}
}

// Check validates every Markdown post under the content directory and
// returns the findings. A missing content directory is not an error; the
// repository may legitimately have no posts yet.
func (c *Checker) Check(ctx context.Context, checkoutDir string) ([]Finding, error) {
	root := filepath.Join(checkoutDir, c.contentDir)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		slog.Debug("Content directory absent, skipping preflight", logfields.Path(root))
		return nil, nil
	}

	var findings []Finding
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isMarkdown(path) {
			return nil
		}

		rel, _ := filepath.Rel(checkoutDir, path)
		findings = append(findings, c.checkPost(path, rel)...)
		return nil
	})
	if err != nil {
		return findings, fmt.Errorf("failed to walk content directory: %w", err)
	}
	return findings, nil
}

// Hook adapts the checker to the runner's stage hook shape. In strict mode
// findings fail the run; otherwise they are logged and the run proceeds.
func (c *Checker) Hook() func(ctx context.Context, dir string) error {
	return func(ctx context.Context, dir string) error {
		findings, err := c.Check(ctx, dir)
		if err != nil {
			return err
		}
		for _, f := range findings {
			slog.Warn("Preflight finding", logfields.Path(f.File), slog.String("problem", f.Problem))
		}
		if c.strict && len(findings) > 0 {
			return fmt.Errorf("%d post validation problem(s), first: %s", len(findings), findings[0])
		}
		return nil
	}
}

func (c *Checker) checkPost(path, rel string) []Finding {
	content, err := os.ReadFile(path)
	if err != nil {
		return []Finding{{File: rel, Problem: "unreadable: " + err.Error()}}
	}

	var findings []Finding

	fm, body, had, err := splitFrontMatter(content)
	if err != nil {
		return append(findings, Finding{File: rel, Problem: err.Error()})
	}
	if !had {
		findings = append(findings, Finding{File: rel, Problem: "missing front matter"})
	} else {
		fields, err := parseFrontMatter(fm)
		if err != nil {
			return append(findings, Finding{File: rel, Problem: "invalid front matter: " + err.Error()})
		}
		for _, key := range c.requiredKeys {
			if v, ok := fields[key]; !ok || v == nil || v == "" {
				findings = append(findings, Finding{File: rel, Problem: "missing required front matter key: " + key})
			}
		}
	}

	if emptyBody(body) {
		findings = append(findings, Finding{File: rel, Problem: "empty post body"})
	}

	return findings
}

// emptyBody parses the Markdown body and reports whether it renders to nothing.
func emptyBody(body []byte) bool {
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(body))

	hasContent := false
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		switch n.Kind() {
		case gmast.KindText, gmast.KindImage, gmast.KindCodeBlock, gmast.KindFencedCodeBlock, gmast.KindHTMLBlock:
			hasContent = true
			return gmast.WalkStop, nil
		}
		return gmast.WalkContinue, nil
	})
	return !hasContent
}

func isMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

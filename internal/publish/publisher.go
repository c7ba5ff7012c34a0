// Package publish places the generated site tree at its destination.
//
// The copy is staged: the artifact is first copied to a sibling staging
// directory on the same filesystem, then swapped into place with rename. The
// destination therefore always holds either the previous complete tree or the
// new complete tree, never a partial mix.
package publish

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
)

// Publisher swaps artifacts into a fixed destination directory.
type Publisher struct {
	destination  string
	keepPrevious bool
	locks        *lockRegistry
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithKeepPrevious retains the replaced tree as <destination>.previous.
func WithKeepPrevious(keep bool) Option {
	return func(p *Publisher) { p.keepPrevious = keep }
}

// NewPublisher creates a publisher for the given destination directory.
func NewPublisher(destination string, opts ...Option) *Publisher {
	p := &Publisher{
		destination: destination,
		locks:       sharedLocks,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Destination returns the configured destination path.
func (p *Publisher) Destination() string { return p.destination }

// Publish copies the artifact tree into place atomically. On any error the
// destination is left exactly as it was before the call.
func (p *Publisher) Publish(artifactDir string) error {
	info, err := os.Stat(artifactDir)
	if err != nil {
		return fmt.Errorf("artifact not readable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifact %s is not a directory", artifactDir)
	}

	absDest, err := filepath.Abs(p.destination)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}

	parent := filepath.Dir(absDest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}

	unlock, err := p.locks.acquire(absDest)
	if err != nil {
		return err
	}
	defer unlock()

	staging := fmt.Sprintf("%s.staging-%s", absDest, time.Now().Format("20060102-150405.000"))
	if err := copyTree(artifactDir, staging); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("stage artifact: %w", err)
	}

	previous := absDest + ".previous"
	_ = os.RemoveAll(previous)

	hadPrevious := false
	if _, err := os.Stat(absDest); err == nil {
		hadPrevious = true
		if err := os.Rename(absDest, previous); err != nil {
			_ = os.RemoveAll(staging)
			return fmt.Errorf("move previous tree aside: %w", err)
		}
	}

	if err := os.Rename(staging, absDest); err != nil {
		// Restore the previous tree; the swap never happened.
		if hadPrevious {
			_ = os.Rename(previous, absDest)
		}
		_ = os.RemoveAll(staging)
		return fmt.Errorf("swap artifact into place: %w", err)
	}

	if hadPrevious && !p.keepPrevious {
		if err := os.RemoveAll(previous); err != nil {
			slog.Warn("Failed to remove previous tree", logfields.Path(previous), logfields.Error(err))
		}
	}

	slog.Info("Artifact published", logfields.Path(absDest))
	return nil
}

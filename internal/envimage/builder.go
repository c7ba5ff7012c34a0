package envimage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	appcfg "git.home.fjellstad.io/blog/blogpipe/internal/config"
	perrors "git.home.fjellstad.io/blog/blogpipe/internal/errors"
	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
)

const hashFileName = "envimage.hash"

// Builder rebuilds the environment image when the descriptor hash changes.
type Builder struct {
	env appcfg.EnvironmentConfig
}

// NewBuilder creates a builder for the given descriptor.
func NewBuilder(env appcfg.EnvironmentConfig) *Builder {
	return &Builder{env: env}
}

// CachedHash returns the hash recorded by the last successful build, or ""
// when no build has happened yet.
func (b *Builder) CachedHash() string {
	data, err := os.ReadFile(filepath.Join(b.env.DataDir, hashFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Stale reports whether the descriptor differs from the cached build.
func (b *Builder) Stale() (bool, string, error) {
	current, err := Hash(b.env)
	if err != nil {
		return false, "", err
	}
	return current != b.CachedHash(), current, nil
}

// EnsureImage rebuilds the environment image iff the descriptor hash differs
// from the cached one (or force is set). Returns the current hash.
func (b *Builder) EnsureImage(ctx context.Context, force bool) (string, error) {
	if b.env.BaseImage == "" {
		// No descriptor declared: runs execute directly on the host.
		return "", nil
	}

	stale, current, err := b.Stale()
	if err != nil {
		return "", perrors.EnvImageError("hash", err)
	}
	if !stale && !force {
		slog.Debug("Environment image up to date", logfields.ImageHash(current))
		return current, nil
	}

	if err := b.build(ctx); err != nil {
		return "", err
	}

	if err := b.recordHash(current); err != nil {
		return "", perrors.EnvImageError("record hash", err)
	}

	slog.Info("Environment image rebuilt", logfields.ImageHash(current), logfields.Name(b.env.ImageName))
	return current, nil
}

func (b *Builder) build(ctx context.Context) error {
	buildDir, err := os.MkdirTemp("", "blogpipe-envimage-")
	if err != nil {
		return perrors.EnvImageError("create build dir", err)
	}
	defer os.RemoveAll(buildDir)

	containerfile := filepath.Join(buildDir, "Containerfile")
	if err := os.WriteFile(containerfile, []byte(RenderContainerfile(b.env)), 0o644); err != nil {
		return perrors.EnvImageError("write containerfile", err)
	}

	cmd := exec.CommandContext(ctx, b.env.ContainerTool, "build", "-t", b.env.ImageName, "-f", containerfile, buildDir)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	slog.Info("Building environment image", logfields.Name(b.env.ImageName), slog.String("tool", b.env.ContainerTool))
	if err := cmd.Run(); err != nil {
		return perrors.EnvImageError("image build", fmt.Errorf("%w: %s", err, tail(out.String(), 2000)))
	}
	return nil
}

func (b *Builder) recordHash(hash string) error {
	if err := os.MkdirAll(b.env.DataDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.env.DataDir, hashFileName), []byte(hash+"\n"), 0o644)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Package git acquires the watched branch head for a pipeline run using
// go-git. A fresh run clones into the workspace; a persistent workspace is
// updated in place with a pull.
package git

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	appcfg "git.home.fjellstad.io/blog/blogpipe/internal/config"
	"git.home.fjellstad.io/blog/blogpipe/internal/logfields"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Client handles Git operations for the checkout stage.
type Client struct {
	workspaceDir string
}

// NewClient creates a new Git client rooted at the specified workspace directory.
func NewClient(workspaceDir string) *Client { return &Client{workspaceDir: workspaceDir} }

// Checkout acquires the current head of the watched branch. Existing
// checkouts (persistent workspaces) are updated; otherwise a fresh clone is
// made. Returns the checkout path and the resolved head commit.
func (c *Client) Checkout(repo appcfg.Repository) (string, string, error) {
	repoPath := filepath.Join(c.workspaceDir, repo.Name)
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err == nil {
		slog.Debug("Updating existing checkout", logfields.Name(repo.Name), logfields.Path(repoPath))
		return c.update(repoPath, repo)
	}
	return c.clone(repoPath, repo)
}

func (c *Client) clone(repoPath string, repo appcfg.Repository) (string, string, error) {
	slog.Debug("Cloning repository", logfields.URL(repo.URL), logfields.Name(repo.Name), logfields.Branch(repo.Branch), logfields.Path(repoPath))
	if err := os.RemoveAll(repoPath); err != nil {
		return "", "", fmt.Errorf("failed to remove existing directory: %w", err)
	}

	cloneOptions := &git.CloneOptions{URL: repo.URL}
	if repo.Branch != "" {
		cloneOptions.ReferenceName = plumbing.ReferenceName("refs/heads/" + repo.Branch)
		cloneOptions.SingleBranch = true
	}
	if repo.ShallowDepth > 0 {
		cloneOptions.Depth = repo.ShallowDepth
	}
	if repo.Auth != nil {
		auth, err := c.getAuthentication(repo.Auth)
		if err != nil {
			return "", "", fmt.Errorf("failed to setup authentication: %w", err)
		}
		cloneOptions.Auth = auth
	}

	repository, err := git.PlainClone(repoPath, false, cloneOptions)
	if err != nil {
		return "", "", classifyError("clone", repo.URL, err)
	}

	head := ""
	if ref, herr := repository.Head(); herr == nil {
		head = ref.Hash().String()
		slog.Info("Repository cloned", logfields.Name(repo.Name), logfields.URL(repo.URL), slog.String("commit", shortHash(head)), logfields.Path(repoPath))
	} else {
		slog.Info("Repository cloned", logfields.Name(repo.Name), logfields.URL(repo.URL), logfields.Path(repoPath))
	}
	return repoPath, head, nil
}

func (c *Client) update(repoPath string, repo appcfg.Repository) (string, string, error) {
	repository, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to open repository: %w", err)
	}

	worktree, err := repository.Worktree()
	if err != nil {
		return "", "", fmt.Errorf("failed to get worktree: %w", err)
	}

	pullOptions := &git.PullOptions{RemoteName: "origin"}
	if repo.Branch != "" {
		pullOptions.ReferenceName = plumbing.ReferenceName("refs/heads/" + repo.Branch)
		pullOptions.SingleBranch = true
	}
	if repo.Auth != nil {
		auth, err := c.getAuthentication(repo.Auth)
		if err != nil {
			return "", "", fmt.Errorf("failed to setup authentication: %w", err)
		}
		pullOptions.Auth = auth
	}

	err = worktree.Pull(pullOptions)
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return "", "", classifyError("pull", repo.URL, err)
	}

	ref, herr := repository.Head()
	head := ""
	if herr == nil {
		head = ref.Hash().String()
	}

	if err == git.NoErrAlreadyUpToDate {
		slog.Info("Repository already up to date", logfields.Name(repo.Name), slog.String("commit", shortHash(head)))
	} else {
		slog.Info("Repository updated", logfields.Name(repo.Name), slog.String("commit", shortHash(head)))
	}
	return repoPath, head, nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// classifyError wraps underlying go-git errors into typed failures so
// downstream code can classify without string parsing.
func classifyError(op, url string, err error) error {
	l := strings.ToLower(err.Error())
	if strings.Contains(l, "authentication") || strings.Contains(l, "auth fail") || strings.Contains(l, "invalid username or password") {
		return &AuthError{Op: op, URL: url, Err: err}
	}
	if strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist") {
		return &NotFoundError{Op: op, URL: url, Err: err}
	}
	if strings.Contains(l, "timeout") || strings.Contains(l, "i/o timeout") || strings.Contains(l, "connection refused") {
		return &NetworkError{Op: op, URL: url, Err: err}
	}
	return fmt.Errorf("failed to %s repository %s: %w", op, url, err)
}

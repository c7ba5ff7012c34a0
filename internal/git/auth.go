package git

import (
	"fmt"
	"os"

	appcfg "git.home.fjellstad.io/blog/blogpipe/internal/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// getAuthentication creates a transport auth method from config.
func (c *Client) getAuthentication(auth *appcfg.AuthConfig) (transport.AuthMethod, error) {
	if auth.IsZero() {
		return nil, nil
	}

	switch auth.Type {
	case appcfg.AuthTypeToken:
		// Forges accept tokens as basic auth passwords; username is ignored
		// but must be non-empty.
		return &http.BasicAuth{Username: "token", Password: auth.Token}, nil

	case appcfg.AuthTypeBasic:
		return &http.BasicAuth{Username: auth.Username, Password: auth.Password}, nil

	case appcfg.AuthTypeSSH:
		keyPath := auth.KeyPath
		if _, err := os.Stat(keyPath); err != nil {
			return nil, fmt.Errorf("ssh key not readable: %w", err)
		}
		publicKeys, err := ssh.NewPublicKeysFromFile("git", keyPath, auth.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to load ssh key: %w", err)
		}
		return publicKeys, nil

	default:
		return nil, fmt.Errorf("unsupported auth type: %s", auth.Type)
	}
}

package config

import (
	"fmt"
	"strings"

	perrors "git.home.fjellstad.io/blog/blogpipe/internal/errors"
)

// Validate checks the configuration for structural problems that would only
// surface mid-run otherwise.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Repository.URL) == "" {
		return perrors.ConfigRequired("repository.url")
	}

	if strings.TrimSpace(c.Publish.Destination) == "" {
		return perrors.ConfigRequired("publish.destination")
	}

	seen := make(map[string]bool, len(c.Pipeline.Stages))
	for _, stage := range c.Pipeline.Stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return perrors.ValidationFailed("pipeline.stages", "stage without a name")
		}
		if seen[name] {
			return perrors.ValidationFailed("pipeline.stages", fmt.Sprintf("duplicate stage %q", name))
		}
		seen[name] = true
		if len(stage.Steps) == 0 {
			return perrors.ValidationFailed("pipeline.stages", fmt.Sprintf("stage %q has no steps", name))
		}
		for _, step := range stage.Steps {
			if strings.TrimSpace(step.Run) == "" {
				return perrors.ValidationFailed("pipeline.stages", fmt.Sprintf("stage %q has a step without a command", name))
			}
		}
	}

	if c.Repository.Auth != nil && !c.Repository.Auth.IsZero() {
		switch c.Repository.Auth.Type {
		case AuthTypeToken:
			if c.Repository.Auth.Token == "" {
				return perrors.ConfigRequired("repository.auth.token")
			}
		case AuthTypeBasic:
			if c.Repository.Auth.Username == "" || c.Repository.Auth.Password == "" {
				return perrors.ConfigRequired("repository.auth.username/password")
			}
		case AuthTypeSSH:
			if c.Repository.Auth.KeyPath == "" {
				return perrors.ConfigRequired("repository.auth.key_path")
			}
		default:
			return perrors.ValidationFailed("repository.auth.type", fmt.Sprintf("unknown auth type %q", c.Repository.Auth.Type))
		}
	}

	if c.Environment.BaseImage != "" && c.Environment.Tag == "" {
		return perrors.ConfigRequired("environment.tag")
	}

	switch c.Environment.ContainerTool {
	case "", "podman", "docker":
	default:
		return perrors.ValidationFailed("environment.container_tool", fmt.Sprintf("unsupported tool %q", c.Environment.ContainerTool))
	}

	if c.Notify.Enabled && strings.TrimSpace(c.Notify.URL) == "" {
		return perrors.ConfigRequired("notify.url")
	}

	return nil
}

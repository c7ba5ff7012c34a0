package config

import (
	"strings"
	"time"
)

// Canonical stage names for the default pipeline. Checkout and publish are
// native runner stages and never appear in the shell stage list.
const (
	DefaultInstallStage = "install"
	DefaultBuildStage   = "build"
)

func (c *Config) applyDefaults() {
	if c.Repository.Branch == "" {
		c.Repository.Branch = "main"
	}
	if c.Repository.Name == "" {
		c.Repository.Name = repoNameFromURL(c.Repository.URL)
	}

	if len(c.Pipeline.Stages) == 0 {
		c.Pipeline.Stages = []StageConfig{
			{
				Name: DefaultInstallStage,
				Steps: []StepConfig{
					{Name: "bundle install", Run: "bundle install --path vendor/bundle"},
				},
			},
			{
				Name: DefaultBuildStage,
				Steps: []StepConfig{
					{Name: "jekyll build", Run: "bundle exec jekyll build --destination _site"},
				},
			},
		}
	}
	for si := range c.Pipeline.Stages {
		for pi := range c.Pipeline.Stages[si].Steps {
			step := &c.Pipeline.Stages[si].Steps[pi]
			if step.Name == "" {
				step.Name = firstWords(step.Run, 3)
			}
		}
	}
	if c.Pipeline.OutputDir == "" {
		c.Pipeline.OutputDir = "_site"
	}
	if c.Pipeline.StepTimeout <= 0 {
		c.Pipeline.StepTimeout = Duration(30 * time.Minute)
	}

	if c.Environment.ContainerTool == "" {
		c.Environment.ContainerTool = "podman"
	}
	if c.Environment.ImageName == "" {
		c.Environment.ImageName = "blogpipe-env"
	}
	if c.Environment.DataDir == "" {
		c.Environment.DataDir = "./data"
	}

	if c.Daemon != nil {
		if c.Daemon.Listen == "" {
			c.Daemon.Listen = ":8080"
		}
		if c.Daemon.WebhookPath == "" {
			c.Daemon.WebhookPath = "/hooks/push"
		}
		if c.Daemon.QueueSize <= 0 {
			c.Daemon.QueueSize = 16
		}
		if c.Daemon.ShutdownTimeout <= 0 {
			c.Daemon.ShutdownTimeout = Duration(30 * time.Second)
		}
		if c.Daemon.RunHistory <= 0 {
			c.Daemon.RunHistory = 50
		}
	}

	if c.Notify.Subject == "" {
		c.Notify.Subject = "blogpipe.runs"
	}

	if c.Preflight.ContentDir == "" {
		c.Preflight.ContentDir = "_posts"
	}
	if len(c.Preflight.RequiredKeys) == 0 {
		c.Preflight.RequiredKeys = []string{"title"}
	}
}

// repoNameFromURL derives a short repository name from its clone URL.
func repoNameFromURL(url string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if idx := strings.LastIndexAny(trimmed, "/:"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "repository"
	}
	return trimmed
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}

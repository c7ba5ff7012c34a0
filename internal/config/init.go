package config

import (
	"fmt"
	"os"
)

const exampleConfig = `# blogpipe configuration
repository:
  url: https://git.home.fjellstad.io/blog/blog.git
  branch: main
  # auth:
  #   type: token
  #   token: ${GIT_TOKEN}

pipeline:
  output_dir: _site
  step_timeout: 30m
  stages:
    - name: install
      steps:
        - name: bundle install
          run: bundle install --path vendor/bundle
    - name: build
      steps:
        - name: jekyll build
          run: bundle exec jekyll build --destination _site

publish:
  destination: ${HOME}/public_html
  keep_previous: false

environment:
  base_image: docker.io/library/debian
  tag: bookworm-slim
  packages:
    - ruby-full
    - build-essential
    - zlib1g-dev
    - default-jre-headless
  tool:
    name: plantuml
    version: 1.2024.7
    url_template: https://github.com/plantuml/plantuml/releases/download/v{version}/plantuml-{version}.jar
  bootstrap: gem install bundler --user-install
  container_tool: podman
  data_dir: ./data

daemon:
  listen: :8080
  webhook_path: /hooks/push
  # webhook_secret: ${WEBHOOK_SECRET}
  schedule_interval: 0s
  queue_size: 16

metrics:
  enabled: true

notify:
  enabled: false
  url: nats://127.0.0.1:4222
  subject: blogpipe.runs

preflight:
  enabled: true
  content_dir: _posts
  required_keys: [title, date]
  strict: false

linkcheck:
  enabled: true
  strict: false
`

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Package envimage builds the isolated execution environment image from its
// declarative descriptor. Builds are content-addressed: the descriptor's hash
// is cached in the data dir and an image rebuild happens only when the
// descriptor changes, bounding environment drift without per-run builds.
package envimage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	appcfg "git.home.fjellstad.io/blog/blogpipe/internal/config"
	"gopkg.in/yaml.v3"
)

// Hash returns the canonical content hash of the descriptor. Struct field
// order is fixed, so the yaml encoding is stable across runs.
func Hash(env appcfg.EnvironmentConfig) (string, error) {
	// DataDir and ContainerTool are host-side knobs, not part of the
	// environment the steps observe.
	normalized := env
	normalized.DataDir = ""
	normalized.ContainerTool = ""

	data, err := yaml.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal descriptor: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ToolURL substitutes the pinned version into the tool's URL template.
func ToolURL(tool appcfg.ToolConfig) string {
	return strings.ReplaceAll(tool.URLTemplate, "{version}", tool.Version)
}

// RenderContainerfile produces the Containerfile for the descriptor.
func RenderContainerfile(env appcfg.EnvironmentConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "FROM %s:%s\n", env.BaseImage, env.Tag)

	if len(env.Packages) > 0 {
		fmt.Fprintf(&b, "RUN apt-get update && apt-get install -y --no-install-recommends %s && rm -rf /var/lib/apt/lists/*\n",
			strings.Join(env.Packages, " "))
	}

	if env.Tool.Name != "" && env.Tool.URLTemplate != "" {
		fmt.Fprintf(&b, "ADD %s /usr/local/lib/%s-%s.jar\n", ToolURL(env.Tool), env.Tool.Name, env.Tool.Version)
	}

	fmt.Fprintf(&b, "RUN useradd --create-home builder\nUSER builder\nWORKDIR /home/builder\n")

	if env.Bootstrap != "" {
		fmt.Fprintf(&b, "RUN %s\n", env.Bootstrap)
	}

	return b.String()
}

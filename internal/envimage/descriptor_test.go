package envimage

import (
	"testing"

	appcfg "git.home.fjellstad.io/blog/blogpipe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnv() appcfg.EnvironmentConfig {
	return appcfg.EnvironmentConfig{
		BaseImage: "docker.io/library/debian",
		Tag:       "bookworm-slim",
		Packages:  []string{"ruby-full", "graphviz"},
		Tool: appcfg.ToolConfig{
			Name:        "plantuml",
			Version:     "1.2024.7",
			URLTemplate: "https://example.com/plantuml-{version}.jar",
		},
		Bootstrap:     "gem install bundler --user-install",
		ContainerTool: "podman",
		ImageName:     "blogpipe-env",
		DataDir:       "/tmp/data",
	}
}

func TestHash_Deterministic(t *testing.T) {
	h1, err := Hash(sampleEnv())
	require.NoError(t, err)
	h2, err := Hash(sampleEnv())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHash_ChangesWithDescriptor(t *testing.T) {
	base, err := Hash(sampleEnv())
	require.NoError(t, err)

	bumped := sampleEnv()
	bumped.Tool.Version = "1.2025.0"
	h, err := Hash(bumped)
	require.NoError(t, err)
	assert.NotEqual(t, base, h)

	pkgs := sampleEnv()
	pkgs.Packages = append(pkgs.Packages, "default-jre-headless")
	h, err = Hash(pkgs)
	require.NoError(t, err)
	assert.NotEqual(t, base, h)
}

func TestHash_IgnoresHostSideKnobs(t *testing.T) {
	base, err := Hash(sampleEnv())
	require.NoError(t, err)

	moved := sampleEnv()
	moved.DataDir = "/somewhere/else"
	moved.ContainerTool = "docker"
	h, err := Hash(moved)
	require.NoError(t, err)
	// Host-side settings do not change what the steps observe.
	assert.Equal(t, base, h)
}

func TestToolURL(t *testing.T) {
	url := ToolURL(sampleEnv().Tool)
	assert.Equal(t, "https://example.com/plantuml-1.2024.7.jar", url)
}

func TestRenderContainerfile(t *testing.T) {
	cf := RenderContainerfile(sampleEnv())

	assert.Contains(t, cf, "FROM docker.io/library/debian:bookworm-slim")
	assert.Contains(t, cf, "apt-get install -y --no-install-recommends ruby-full graphviz")
	assert.Contains(t, cf, "ADD https://example.com/plantuml-1.2024.7.jar /usr/local/lib/plantuml-1.2024.7.jar")
	assert.Contains(t, cf, "RUN gem install bundler --user-install")
	// Steps run as an unprivileged user so installs stay user-owned.
	assert.Contains(t, cf, "USER builder")
}

func TestRenderContainerfile_MinimalDescriptor(t *testing.T) {
	cf := RenderContainerfile(appcfg.EnvironmentConfig{BaseImage: "alpine", Tag: "3.20"})
	assert.Contains(t, cf, "FROM alpine:3.20")
	assert.NotContains(t, cf, "apt-get")
	assert.NotContains(t, cf, "ADD ")
}

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineError_ErrorString(t *testing.T) {
	e := New(CategoryBuild, SeverityFatal, "site generation failed")
	assert.Equal(t, "build (fatal): site generation failed", e.Error())

	wrapped := Wrap(stderrors.New("exit status 1"), CategoryBuild, SeverityFatal, "site generation failed")
	assert.Equal(t, "build (fatal): site generation failed: exit status 1", wrapped.Error())
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := stderrors.New("exit status 2")
	e := DependencyInstallFailure("bundle install", cause)
	require.ErrorIs(t, e, cause)
}

func TestCategoryThroughWrappedChain(t *testing.T) {
	e := BuildFailure("jekyll build", stderrors.New("exit status 1"))
	outer := fmt.Errorf("run aborted: %w", e)

	assert.True(t, IsCategory(outer, CategoryBuild))
	assert.False(t, IsCategory(outer, CategoryPublish))
	assert.Equal(t, CategoryBuild, GetCategory(outer))
}

func TestStageFailureTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  *PipelineError
		want ErrorCategory
	}{
		{"install", DependencyInstallFailure("bundle install", stderrors.New("x")), CategoryInstall},
		{"build", BuildFailure("jekyll build", stderrors.New("x")), CategoryBuild},
		{"publish", ArtifactPublishFailure("/srv/www", stderrors.New("x")), CategoryPublish},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Category)
			assert.Equal(t, SeverityFatal, tc.err.Severity)
			assert.False(t, tc.err.Retryable)
		})
	}
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(GitNetworkError("blog", stderrors.New("timeout"))))
	assert.False(t, IsRetryable(GitAuthError("blog", stderrors.New("denied"))))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestGetCategoryFallback(t *testing.T) {
	assert.Equal(t, CategoryInternal, GetCategory(stderrors.New("plain")))
}

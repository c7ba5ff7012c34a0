package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *PipelineError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Stage failures (the run taxonomy). Each maps a non-zero exit or copy error
// of the corresponding stage to a tagged, fatal failure.

func DependencyInstallFailure(step string, cause error) *PipelineError {
	return Wrap(cause, CategoryInstall, SeverityFatal, "dependency install failed").
		WithContext("step", step)
}

func BuildFailure(step string, cause error) *PipelineError {
	return Wrap(cause, CategoryBuild, SeverityFatal, "site generation failed").
		WithContext("step", step)
}

func ArtifactPublishFailure(destination string, cause error) *PipelineError {
	return Wrap(cause, CategoryPublish, SeverityFatal, "artifact publish failed").
		WithContext("destination", destination)
}

// Git errors

func GitCheckoutError(repo string, cause error) *PipelineError {
	return Wrap(cause, CategoryGit, SeverityFatal, "repository checkout failed").
		WithContext("repository", repo)
}

func GitAuthError(repo string, cause error) *PipelineError {
	return Wrap(cause, CategoryAuth, SeverityFatal, "git authentication failed").
		WithContext("repository", repo)
}

func GitNetworkError(repo string, cause error) *PipelineError {
	return WrapRetryable(cause, CategoryNetwork, SeverityWarning, "git network error").
		WithContext("repository", repo)
}

// Infrastructure errors

func WorkspaceError(operation string, cause error) *PipelineError {
	return Wrap(cause, CategoryFileSystem, SeverityFatal, "workspace operation failed").
		WithContext("operation", operation)
}

func EnvImageError(operation string, cause error) *PipelineError {
	return Wrap(cause, CategoryEnvImage, SeverityFatal, "environment image operation failed").
		WithContext("operation", operation)
}

func DaemonError(message string, cause error) *PipelineError {
	return Wrap(cause, CategoryDaemon, SeverityError, message)
}

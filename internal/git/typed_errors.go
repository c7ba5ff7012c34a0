package git

import "fmt"

// AuthError indicates the remote rejected our credentials.
type AuthError struct {
	Op  string
	URL string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("git %s auth failed for %s: %v", e.Op, e.URL, e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError indicates the repository or branch does not exist.
type NotFoundError struct {
	Op  string
	URL string
	Err error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("git %s target not found %s: %v", e.Op, e.URL, e.Err)
}
func (e *NotFoundError) Unwrap() error { return e.Err }

// NetworkError indicates a transient transport problem.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("git %s network error for %s: %v", e.Op, e.URL, e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }

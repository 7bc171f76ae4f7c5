package browser

import (
	"errors"
	"fmt"
)

// ErrSessionLimit is returned by CreateSession when max_sessions is reached.
var ErrSessionLimit = errors.New("session limit reached")

// ErrRegistryClosed is returned by CreateSession once Shutdown has begun.
var ErrRegistryClosed = errors.New("registry is shut down")

// NotFoundError reports an identifier that does not resolve in the registry.
type NotFoundError struct {
	Kind string // "session" or "page"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown %s %s", e.Kind, e.ID)
}

// UnknownSession builds the not-found error for a session id.
func UnknownSession(id string) error { return &NotFoundError{Kind: "session", ID: id} }

// UnknownPage builds the not-found error for a page id.
func UnknownPage(id string) error { return &NotFoundError{Kind: "page", ID: id} }

// IsNotFound reports whether err is a registry lookup miss.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// LaunchError wraps a failure to start a browser process. It is the only
// error the tool dispatcher lets escape as a hard failure.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return "launch browser: " + e.Err.Error() }

func (e *LaunchError) Unwrap() error { return e.Err }

// ErrNoQuery is returned when an element query has neither selector nor text.
var ErrNoQuery = errors.New("no selector or text provided")

// MatchError reports a selector that did not resolve to exactly one element.
type MatchError struct {
	Selector string
	Count    int
}

func (e *MatchError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("selector %s matched no elements", e.Selector)
	}
	return fmt.Sprintf("selector %s matched %d elements", e.Selector, e.Count)
}

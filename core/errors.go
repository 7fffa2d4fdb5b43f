package core

import "errors"

// Sentinel errors. Packages return typed errors carrying context that unwrap to
// one of these so callers can branch with errors.Is.
var (
	// ErrAuthUnavailable indicates no credential strategy produced a credential.
	ErrAuthUnavailable = errors.New("auth unavailable")

	// ErrMissingCredential indicates a required tool token was absent or empty.
	ErrMissingCredential = errors.New("missing credential")

	// ErrSchemaParse indicates a tool document was malformed or held
	// unresolvable references.
	ErrSchemaParse = errors.New("schema parse error")

	// ErrDuplicatePlugin indicates a plugin name was registered twice on one session.
	ErrDuplicatePlugin = errors.New("duplicate plugin")

	// ErrAgentCreation indicates the remote service rejected the agent definition.
	ErrAgentCreation = errors.New("agent creation failed")

	// ErrInvocation indicates a turn failed. The session stays usable.
	ErrInvocation = errors.New("invocation failed")

	// ErrNotFound is returned by services when an agent or thread does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionBusy indicates a turn is already in flight on the session.
	ErrSessionBusy = errors.New("session busy: a turn is already in progress")

	// ErrSessionState indicates an operation is not valid in the current session state.
	ErrSessionState = errors.New("invalid session state")
)

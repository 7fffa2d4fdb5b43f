package transport

import (
	"fmt"

	"github.com/hupe1980/toolmesh/core"
)

// MissingCredentialError reports an absent or empty bearer token.
type MissingCredentialError struct {
	Plugin string
	Env    string
}

func (e *MissingCredentialError) Error() string {
	switch {
	case e.Env != "" && e.Plugin != "":
		return fmt.Sprintf("missing credential for plugin %s: environment variable %s is not set", e.Plugin, e.Env)
	case e.Env != "":
		return fmt.Sprintf("missing credential: environment variable %s is not set", e.Env)
	case e.Plugin != "":
		return fmt.Sprintf("missing credential for plugin %s: no token configured", e.Plugin)
	default:
		return "missing credential: no token configured"
	}
}

// Unwrap returns core.ErrMissingCredential.
func (e *MissingCredentialError) Unwrap() error { return core.ErrMissingCredential }

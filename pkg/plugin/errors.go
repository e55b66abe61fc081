package plugin

import (
	"errors"
	"fmt"
)

var (
	ErrManifestMalformed = errors.New("manifest malformed")
	ErrManifestInvalid   = errors.New("manifest invalid")
	ErrPluginFailed      = errors.New("plugin failed")
	ErrBadResponse       = errors.New("bad plugin response")
	ErrNonFinite         = errors.New("image holds a non-finite sample")
)

// LoadError reports a plugin source that could not be turned into
// operations. Callers typically log it and carry on with the registry they
// already have.
type LoadError struct {
	Source string
	Cause  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %s: %v", e.Source, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

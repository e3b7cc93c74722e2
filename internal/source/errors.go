package source

import (
	"fmt"
	"strings"
)

// UpstreamError reports a failed or unparseable search/autocomplete call.
// Callers treat it as "no result" for a single attempt.
type UpstreamError struct {
	Source string
	Op     string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports credentials a source requires but does not have.
// Nothing can be fetched from that source until it is fixed.
type ConfigurationError struct {
	Source  string
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: missing required configuration: %s", e.Source, strings.Join(e.Missing, ", "))
}

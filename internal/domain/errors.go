package domain

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a malformed or unresolvable pipeline document.
type ConfigurationError struct {
	// Key is the offending document key or symbol name.
	Key string
	// Missing lists dotted paths of required keys that are absent.
	Missing []string
	Message string
	// Hint describes the expected shape, when one applies.
	Hint string
	Err  error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("pipeline configuration error")
	if e.Key != "" {
		fmt.Fprintf(&b, " at %q", e.Key)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Missing) > 0 {
		b.WriteString(": missing required keys: ")
		b.WriteString(strings.Join(e.Missing, ", "))
	}
	if e.Hint != "" {
		b.WriteString("\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ProvisioningError reports a failed or refused lifecycle operation.
type ProvisioningError struct {
	Op      string
	Message string
	// ManualSteps are commands an operator can run to finish the setup by hand.
	ManualSteps []string
	Err         error
}

func (e *ProvisioningError) Error() string {
	var b strings.Builder
	b.WriteString("unable to ")
	if e.Op != "" {
		b.WriteString(e.Op)
	} else {
		b.WriteString("provision")
	}
	b.WriteString(" orchestrator deployment")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.ManualSteps) > 0 {
		b.WriteString("\nto set up the deployment manually run:\n")
		b.WriteString(strings.Join(e.ManualSteps, "\n"))
	}
	return b.String()
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}

package integration

import "fmt"

// AdapterConfigurationError reports a misconfigured system: missing
// credentials, a rejected key, or a base URL that cannot be used. Batch
// processing treats the system as dead for the rest of the run.
type AdapterConfigurationError struct {
	System string
	Reason string
}

func (e *AdapterConfigurationError) Error() string {
	return fmt.Sprintf("system %s: configuration error: %s", e.System, e.Reason)
}

// AdapterNotConfiguredError reports a request for a system name that has no
// configuration entry, or no usable default.
type AdapterNotConfiguredError struct {
	System string
}

func (e *AdapterNotConfiguredError) Error() string {
	if e.System == "" {
		return "no financial aid system requested and no default_system configured"
	}
	return fmt.Sprintf("financial aid system %s is not configured", e.System)
}

// ExternalCallError reports a transport-level failure talking to an external
// system: connection errors, timeouts, or 5xx responses. These are retryable;
// business rejections are not errors at all and come back in the result.
type ExternalCallError struct {
	System     string
	Operation  string
	StatusCode int
	Err        error
}

func (e *ExternalCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("system %s: %s failed with HTTP %d", e.System, e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("system %s: %s failed: %v", e.System, e.Operation, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }

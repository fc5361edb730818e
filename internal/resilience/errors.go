package resilience

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when the breaker refuses an outbound call.
var ErrCircuitOpen = errors.New("circuit_open")

// ProviderError is the normalized error shape returned by outbound clients.
// StatusCode is zero for transport-level failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Kind       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status=%d code=%s %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

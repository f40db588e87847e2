package provider

import (
	"errors"
	"fmt"
)

// Error is a failure reported by (or while reaching) an upstream provider.
type Error struct {
	Op         string // "submit video", "query task", ...
	StatusCode int    // HTTP status if the provider answered, 0 otherwise
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s failed (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is (or wraps) a provider failure.
func IsProviderError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

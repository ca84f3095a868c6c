package fetch

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPath indicates a path absent from the registry.
var ErrUnknownPath = errors.New("unknown path")

// ValidationError reports a request rejected before it was sent, or a
// response that could not be interpreted.
type ValidationError struct {
	Path    string
	Reason  string
	Missing []string
	Err     error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "validate %s: %s", e.Path, e.Reason)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing %s)", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError reports a failed request: transport failure, timeout or a
// non-2xx status.
type TransportError struct {
	Path       string
	Page       int
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s page %d: status %d: %v", e.Path, e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s page %d: %v", e.Path, e.Page, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// errorKind labels err for metrics.
func errorKind(err error) string {
	var ve *ValidationError
	var te *TransportError
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &te) && te.StatusCode != 0:
		return "status"
	case errors.As(err, &te):
		return "transport"
	default:
		return "other"
	}
}

package groupindex

import "errors"

// ErrNoKeys is returned by Build when no grouping columns are given.
var ErrNoKeys = errors.New("no grouping columns")

// IndexError reports a malformed query.
type IndexError struct {
	Reason string
}

func (e *IndexError) Error() string {
	return "group index: " + e.Reason
}

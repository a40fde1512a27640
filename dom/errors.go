package dom

import (
	"errors"
	"fmt"
)

// ErrDetached is returned by a Page when the target node is no longer part
// of the document.
var ErrDetached = errors.New("dom: node detached")

// TransientError reports a failed read or write on a single node, typically
// because the host page re-rendered it mid-operation. Callers skip the node
// and carry on.
type TransientError struct {
	Op   string
	Node string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("dom: %s <%s>: %v", e.Op, e.Node, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

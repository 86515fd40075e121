package pine

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrConflict is returned when inserting under a key that is already present.
// Nothing is constructed or mutated in that case; the caller's key and value
// remain untouched and may be reused. Match with errors.Is.
var ErrConflict = errors.New("entry already exists")

// TeardownPanics compounds panic values raised by destructors during a clear
// or teardown pass. The pass always destroys every remaining entry first and
// panics with the compound only after it finishes. A pass with a single
// failing destructor re-panics with the original value instead.
type TeardownPanics []any

func (p TeardownPanics) String() string {
	return fmt.Sprintf("%d destructors panicked during teardown", len(p))
}

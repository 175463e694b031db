package repositories

import "github.com/pkg/errors"

// Common repository errors
var (
	ErrNotFound = errors.New("record not found")
	// ErrFrozenMutation is returned when a write touches a column outside
	// the allow-list of a done/delivered delivery order.
	ErrFrozenMutation = errors.New("mutation attempted on frozen delivery order")
	// ErrLineImmutable is returned when deleting or detaching a BOP line
	// that reached the final settlement tier.
	ErrLineImmutable = errors.New("bop line at final tier cannot be removed")
)

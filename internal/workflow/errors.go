package workflow

import "github.com/pkg/errors"

// Workflow errors. Authorization and invariant errors abort the
// transaction before anything is persisted.
var (
	// ErrReviewerMissing is returned when no active tier definition or
	// reviewer is configured for the requested stage.
	ErrReviewerMissing = errors.New("no active reviewer configured for this stage")
	// ErrNotAuthorizedReviewer is returned when the caller is not the
	// reviewer the tier definition designates.
	ErrNotAuthorizedReviewer = errors.New("caller is not the designated reviewer")
	// ErrInvalidTransition is returned when the document is not in the
	// state the requested transition starts from.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrQuotaExceeded is returned when the order's bop_state caps the
	// number of budget lines below the request.
	ErrQuotaExceeded = errors.New("bop line quota exceeded for this order")
	// ErrCommentRequired is returned when a rejection lacks the reason
	// the tier definition mandates.
	ErrCommentRequired = errors.New("a rejection reason is required at this tier")
	// ErrVehicleRequired is returned when approval is requested for an
	// order without an assigned vehicle.
	ErrVehicleRequired = errors.New("delivery order has no vehicle assigned")
	// ErrLocationRequired is returned at branch-head approval when the
	// loading or unloading location is missing.
	ErrLocationRequired = errors.New("loading and unloading locations are required")
	// ErrBOPLineRequired is returned when cashier approval finds no BOP
	// line on the order.
	ErrBOPLineRequired = errors.New("delivery order has no bop line")
)

package core

import "errors"

// Domain error kinds. Each aborts the enclosing transaction with a full
// rollback and is classified by callers with errors.Is.
var (
	// ErrValidation rejects a malformed command before any state is touched.
	ErrValidation = errors.New("invalid command")

	// ErrInsufficientBalance rejects a buy order whose owner cannot cover
	// price × amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAsset rejects a sell order whose owner's unreserved
	// holding is below the order amount.
	ErrInsufficientAsset = errors.New("insufficient asset")

	ErrOrderNotFound       = errors.New("order not found")
	ErrUnauthorized        = errors.New("order does not belong to caller")
	ErrOrderNotCancellable = errors.New("order is not cancellable")

	// ErrConcurrencyConflict surfaces a lock-wait timeout or deadlock abort
	// from the store. The whole operation is safe to retry from scratch;
	// retry policy belongs to the caller.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")

	// ErrInvariantViolation signals a logic defect (for example lockedAmount
	// exceeding amount), never an expected business condition. It must reach
	// operator alerting.
	ErrInvariantViolation = errors.New("internal invariant violation")
)

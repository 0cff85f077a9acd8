package memory

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openspot/openspot/pkg/core"
)

// Mutations against absent rows or rows pushed past their invariants indicate
// a caller bug: every mutating primitive requires a prior Lock* call, which
// creates the row, and callers validate sufficiency under that lock.

func errNoRow(kind string, id int64) error {
	return fmt.Errorf("%w: %s %d mutated without prior lock", core.ErrInvariantViolation, kind, id)
}

func errNegative(kind string, id int64, value decimal.Decimal) error {
	return fmt.Errorf("%w: %s for %d would become %s", core.ErrInvariantViolation, kind, id, value)
}

func errHoldingInvariant(owner int64, symbol string, amount, locked decimal.Decimal) error {
	return fmt.Errorf("%w: holding %d/%s amount=%s locked=%s", core.ErrInvariantViolation, owner, symbol, amount, locked)
}

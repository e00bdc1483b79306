package usage

import (
	"errors"
	"fmt"
)

var (
	// ErrBudgetExceeded is returned when a user has spent their daily limit.
	ErrBudgetExceeded = errors.New("daily cost limit exceeded")

	// ErrInvalidPeriod is returned for a summary period other than day, week or month.
	ErrInvalidPeriod = errors.New("invalid period")
)

// BudgetError carries the spend and limit behind an ErrBudgetExceeded
type BudgetError struct {
	CurrentCost float64
	Limit       float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("daily cost limit exceeded: spent $%.4f of $%.2f", e.CurrentCost, e.Limit)
}

func (e *BudgetError) Unwrap() error {
	return ErrBudgetExceeded
}

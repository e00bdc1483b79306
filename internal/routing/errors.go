package routing

import (
	"errors"
	"fmt"

	"github.com/mrmushfiq/llm0-router/internal/shared/models"
)

// Sentinel errors for routing operations.
var (
	// ErrConfigLoad is returned when a user's routing settings cannot be
	// loaded. Callers must not fall back to the built-in defaults.
	ErrConfigLoad = errors.New("routing config load failed")

	// ErrUnknownChain is returned when a chain name is absent from both the
	// user's chains and the built-in catalog.
	ErrUnknownChain = errors.New("unknown chain")

	// ErrInvalidConfig is returned when a settings update fails validation.
	ErrInvalidConfig = errors.New("invalid routing config")
)

// ValidationError describes one rejected field of a settings update
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// StageError reports the chain stage that failed. Index is zero-based.
type StageError struct {
	Chain   string
	Index   int
	Purpose string
	Tier    models.Tier
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("chain %s: stage %d (%s, %s) failed: %v", e.Chain, e.Index+1, e.Purpose, e.Tier, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

package battle

import "fmt"

// ValidationError rejects an operation synchronously: illegal state
// transition, malformed spec, or a capacity/duration limit. Never
// retried, surfaced to the caller verbatim.
type ValidationError struct {
	Op       string
	BattleID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.BattleID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s (battle=%s): %s", e.Op, e.BattleID, e.Reason)
}

func validationErr(op, battleID, format string, args ...any) error {
	return &ValidationError{Op: op, BattleID: battleID, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError marks an absent battle or participant.
type NotFoundError struct {
	Kind string // "battle" or "participant"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

package rules

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the rule write path.
var (
	// ErrInvalidPattern indicates an alias pattern that does not compile.
	ErrInvalidPattern = errors.New("invalid alias pattern")
	// ErrOverlap indicates the rule collides with an existing active rule.
	ErrOverlap = errors.New("rule overlaps an existing active rule")
	// ErrRuleNotFound indicates the rule id does not exist.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrInvalidRule indicates a structurally invalid rule, such as a blank name.
	ErrInvalidRule = errors.New("invalid rule")
)

// InvalidPatternError carries the regex compile failure.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid alias pattern %q: %v", e.Pattern, e.Err)
}

// Is matches ErrInvalidPattern.
func (e *InvalidPatternError) Is(target error) bool { return target == ErrInvalidPattern }

// Unwrap returns the underlying regexp error.
func (e *InvalidPatternError) Unwrap() error { return e.Err }

// OverlapError lists the active rules the candidate collides with.
type OverlapError struct {
	ConflictingNames []string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("rule overlaps existing active rules: %s", strings.Join(e.ConflictingNames, ", "))
}

// Is matches ErrOverlap.
func (e *OverlapError) Is(target error) bool { return target == ErrOverlap }

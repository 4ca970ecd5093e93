package video

import (
	"errors"
	"fmt"
)

// The error taxonomy. Syntax errors abort the current unit or picture only;
// resource errors fail the current call without mutating committed state;
// sequence errors stop the session until it is reinitialized.
var (
	ErrSyntax   = errors.New("bitstream syntax error")
	ErrResource = errors.New("resource failure")
	ErrSequence = errors.New("sequence rejected")
)

// SyntaxErrorf wraps ErrSyntax with diagnostic context.
func SyntaxErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrSyntax)...)
}

// ResourceErrorf wraps ErrResource with diagnostic context.
func ResourceErrorf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrResource)...)
}

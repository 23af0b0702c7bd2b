package procs

import (
	"context"
)

// Junk does nothing and returns a single nil. Kept for exercising the
// trigger machinery without side effects.
func Junk(ctx context.Context, pk string, row Row, arg any) ([]any, error) {
	return []any{nil}, nil
}

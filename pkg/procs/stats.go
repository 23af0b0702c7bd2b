package procs

import (
	"context"
)

// Stats computes the mean and population standard deviation of the
// row's series. Registered with targets ["mean", "std"].
func Stats(ctx context.Context, pk string, row Row, arg any) ([]any, error) {
	return []any{row.TS.Mean(), row.TS.Std()}, nil
}

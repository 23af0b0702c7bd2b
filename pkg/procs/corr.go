package procs

import (
	"context"

	"github.com/bobboyms/tsdb/pkg/distance"
	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/types"
)

// Corr computes the kernelized cross-correlation distance between the
// row's series and the argument series. The argument typing is lost on
// the wire, so it is re-decoded here.
func Corr(ctx context.Context, pk string, row Row, arg any) ([]any, error) {
	query, err := types.DecodeSeries(arg)
	if err != nil {
		return nil, &tsdberr.InvalidOperationError{Op: "corr", Reason: err.Error()}
	}
	return []any{distance.Distance(row.TS, query)}, nil
}

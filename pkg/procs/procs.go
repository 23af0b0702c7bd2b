// Package procs holds the process-local stored procedures that triggers
// and augmented selects resolve by name. The persistent trigger registry
// stores names only; the handle lookup happens here at load time.
package procs

import (
	"context"
	"fmt"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/types"
)

// Row is the materialized view of a database entry handed to a
// procedure: the primary key, the series, and the decoded metadata.
type Row struct {
	PK   string
	TS   types.TimeSeries
	Meta map[string]any
}

// Procedure is the single shape every stored procedure exposes. It
// returns one value per element of the registered target-field list.
// Procedures may block; the trigger engine awaits their completion.
type Procedure func(ctx context.Context, pk string, row Row, arg any) ([]any, error)

var registry = map[string]Procedure{
	"stats": Stats,
	"corr":  Corr,
	"junk":  Junk,
}

// Lookup resolves a procedure by name.
func Lookup(name string) (Procedure, error) {
	proc, ok := registry[name]
	if !ok {
		return nil, &tsdberr.ProcedureNotFoundError{Name: name}
	}
	return proc, nil
}

// Register installs a procedure under name, replacing any existing one.
// Exposed so deployments can add procedures beyond the stock set.
func Register(name string, proc Procedure) error {
	if name == "" {
		return fmt.Errorf("procedure name must not be empty")
	}
	registry[name] = proc
	return nil
}

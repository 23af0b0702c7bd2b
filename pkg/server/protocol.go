package server

import (
	"errors"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
)

// Status is the outcome code carried on every response.
type Status string

const (
	StatusOK               Status = "OK"
	StatusInvalidKey       Status = "INVALID_KEY"
	StatusInvalidOperation Status = "INVALID_OPERATION"
	StatusNoMatch          Status = "NO_MATCH"
	StatusUnknownError     Status = "UNKNOWN_ERROR"
)

// Operation names accepted on the wire.
const (
	OpInsertTS        = "insert_ts"
	OpDeleteTS        = "delete_ts"
	OpUpsertMeta      = "upsert_meta"
	OpSelect          = "select"
	OpAugmentedSelect = "augmented_select"
	OpInsertVP        = "insert_vp"
	OpDeleteVP        = "delete_vp"
	OpVPSearch        = "vp_similarity_search"
	OpISAXSearch      = "isax_similarity_search"
	OpISAXTree        = "isax_tree"
	OpAddTrigger      = "add_trigger"
	OpRemoveTrigger   = "remove_trigger"
)

// Response is the frame written back for every request.
type Response struct {
	Op      string `json:"op"`
	Status  Status `json:"status"`
	Payload any    `json:"payload"`
}

// statusOf maps a database error to its wire status.
func statusOf(err error) Status {
	if err == nil {
		return StatusOK
	}

	var invalidKey *tsdberr.InvalidKeyError
	var invalidOp *tsdberr.InvalidOperationError
	var unknownField *tsdberr.UnknownFieldError
	var procNotFound *tsdberr.ProcedureNotFoundError
	var trigNotFound *tsdberr.TriggerNotFoundError
	var noMatch *tsdberr.NoMatchError

	switch {
	case errors.As(err, &invalidKey):
		return StatusInvalidKey
	case errors.As(err, &invalidOp),
		errors.As(err, &unknownField),
		errors.As(err, &procNotFound),
		errors.As(err, &trigNotFound):
		return StatusInvalidOperation
	case errors.As(err, &noMatch):
		return StatusNoMatch
	default:
		return StatusUnknownError
	}
}

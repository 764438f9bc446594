package cli

import (
	"errors"

	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/objstore"
	"github.com/roach88/recstore/internal/record"
)

// Error codes for CLI responses.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeConfig       = "E002" // Config load or validation failed
	ErrCodeDatabaseOpen = "E003" // Backend or database could not be opened
	ErrCodeInvalidInput = "E004" // Malformed record or id
	ErrCodeNotFound     = "E005" // Record or path not found
	ErrCodeConstraint   = "E006" // Duplicate key
	ErrCodeOperation    = "E007" // Store operation failed
)

// classifyError returns the error code and exit code for err.
func classifyError(err error) (code string, exit int) {
	switch {
	case errors.Is(err, config.ErrInvalid), errors.Is(err, objstore.ErrInvalidConfig):
		return ErrCodeConfig, ExitCommandError
	case errors.Is(err, record.ErrMissingKey),
		errors.Is(err, record.ErrInvalidKey),
		errors.Is(err, record.ErrNotObject),
		errors.Is(err, record.ErrInvalidPath):
		return ErrCodeInvalidInput, ExitCommandError
	}

	switch objstore.KindOf(err) {
	case objstore.KindConstraint:
		return ErrCodeConstraint, ExitFailure
	case objstore.KindDatabaseOpen:
		return ErrCodeDatabaseOpen, ExitCommandError
	case objstore.KindOperationFailed:
		return ErrCodeOperation, ExitFailure
	}
	return ErrCodeGeneric, ExitFailure
}

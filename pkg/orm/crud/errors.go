package crud

import (
	"errors"
	"fmt"

	"github.com/openbrain/entitymanagement/pkg/nexus"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// Common lifecycle error types
var (
	// ErrNotFound is returned when a resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrRevisionConflict is returned when a write was based on a stale revision
	ErrRevisionConflict = errors.New("resource was modified since it was read")

	// ErrNotPublished is returned when an operation needs an identifier the value does not have yet
	ErrNotPublished = errors.New("entity has not been published")

	// ErrNoResult is returned by FindUnique when nothing matches and Throw is set
	ErrNoResult = errors.New("no matching resource")

	// ErrTooManyResults is returned by FindUnique when more than one resource matches
	ErrTooManyResults = errors.New("more than one matching resource")

	// ErrPollTimeout is returned when a polled resource did not appear in time
	ErrPollTimeout = errors.New("resource did not appear before the poll limit")

	// ErrDigestMismatch is returned when downloaded content does not match its recorded digest
	ErrDigestMismatch = errors.New("content digest mismatch")

	// ErrNoDistribution is returned when an entity has nothing to download
	ErrNoDistribution = errors.New("entity has no distribution")
)

// ConvertRemoteError maps store errors onto the lifecycle errors. The
// original error stays in the chain.
func ConvertRemoteError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, nexus.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, nexus.ErrConflict):
		return fmt.Errorf("%w: %w", ErrRevisionConflict, err)
	}

	return err
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRevisionConflict returns true if the error is ErrRevisionConflict
func IsRevisionConflict(err error) bool {
	return errors.Is(err, ErrRevisionConflict)
}

// IsUnknownType returns true if no registered type matched a resource
func IsUnknownType(err error) bool {
	return errors.Is(err, schema.ErrUnknownType)
}

// IsValidationFailed returns true if the error is a validation error
func IsValidationFailed(err error) bool {
	if errors.Is(err, schema.ErrValidationFailed) {
		return true
	}
	var valErr *schema.ValidationError
	return errors.As(err, &valErr)
}

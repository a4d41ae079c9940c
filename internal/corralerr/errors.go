// Package corralerr defines the error kinds used across the chunk
// processing pipeline (§7). They are sentinels meant to be wrapped with
// fmt.Errorf("...: %w", ErrX) and inspected with errors.Is.
package corralerr

import "errors"

var (
	// ErrInputNotFound — chunk file or prior JSON missing.
	ErrInputNotFound = errors.New("input not found")
	// ErrDecodeError — frame read failed mid-stream.
	ErrDecodeError = errors.New("decode error")
	// ErrInferenceError — detector/estimator/embedder returned an error or timed out.
	ErrInferenceError = errors.New("inference error")
	// ErrRegistryUnavailable — hot and/or warm tier failed.
	ErrRegistryUnavailable = errors.New("registry unavailable")
	// ErrCapacityExceeded — submission queue full.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrTimeout — job exceeded its budget.
	ErrTimeout = errors.New("job timeout")
	// ErrCorrectionInvalid — a correction addresses a non-existent slot or
	// omits a required field.
	ErrCorrectionInvalid = errors.New("correction invalid")
	// ErrCancelled — explicit cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrAlreadyInFlight — scheduler already has a job for this chunk_id.
	ErrAlreadyInFlight = errors.New("chunk already in flight")
)

// ExitCode maps an error kind to the CLI exit code contract of §6.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInputNotFound):
		return 3
	case errors.Is(err, ErrTimeout):
		return 4
	case errors.Is(err, ErrCorrectionInvalid):
		return 2
	default:
		return 5
	}
}

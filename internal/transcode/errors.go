package transcode

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is the outcome of a job whose cancellation was requested before it exited.
	ErrCancelled = errors.New("transcode cancelled")

	// ErrJobNotFound indicates no job has the requested id.
	ErrJobNotFound = errors.New("transcode job not found")

	// ErrCapacity indicates the maximum number of concurrent jobs is running.
	ErrCapacity = errors.New("maximum concurrent transcodes reached")

	// ErrNotSegmented indicates a playlist was requested for a non-segmented job.
	ErrNotSegmented = errors.New("transcode job is not segmented")

	// ErrManagerClosed indicates the manager is shutting down and accepts no new jobs.
	ErrManagerClosed = errors.New("transcode manager is shutting down")
)

// PreconditionError is returned when a request is rejected before any resource is touched.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("invalid transcode request: %v", e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// AcquireError is returned when mounting, opening or buffering the input fails.
type AcquireError struct {
	Err error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquiring transcode resources: %v", e.Err)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

// LaunchError is returned when the encoder process could not be started.
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("starting encoder %s: %v", e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// EncodingFailedError is the outcome of a job whose encoder exited unsuccessfully.
// ExitCode is -1 when the exit status could not be read.
type EncodingFailedError struct {
	ExitCode int
}

func (e *EncodingFailedError) Error() string {
	if e.ExitCode < 0 {
		return "Encoding failed"
	}
	return fmt.Sprintf("Encoding failed (exit code %d)", e.ExitCode)
}

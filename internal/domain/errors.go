package domain

import "errors"

var (
	// ErrValidation marks bad or missing input rejected at submission.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateJob is returned when an equal-key job is queued or in flight.
	ErrDuplicateJob = errors.New("already queued")
	// ErrInsufficientContent fails a job whose text is below the minimum length.
	ErrInsufficientContent = errors.New("insufficient content")
	// ErrInference wraps every failure of the inference engine.
	ErrInference = errors.New("inference failed")
	// ErrTimeout fails a job that ran past its deadline.
	ErrTimeout = errors.New("inference timed out")
	// ErrEngineBusy is returned by an adapter that is already running a call.
	ErrEngineBusy = errors.New("inference engine busy")
	// ErrPersistence fails a job whose summary could not be stored.
	ErrPersistence = errors.New("persistence failed")

	ErrNotFound           = errors.New("not found")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

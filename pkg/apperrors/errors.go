package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyProcessed = errors.New("message already processed")
	ErrAmbiguousEntity  = errors.New("name does not match any known entity above threshold")
	ErrRunNotResumable  = errors.New("bulk import run is not resumable")
	ErrIndexUnavailable = errors.New("vector index unavailable")
)

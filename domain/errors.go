package domain

import "errors"

var (
	ErrNotFound           = errors.New("task not found")
	ErrInvalidTask        = errors.New("invalid task")
	ErrTaskResolved       = errors.New("task is resolved")
	ErrFutureDate         = errors.New("date is in the future")
	ErrDeleteNotConfirmed = errors.New("delete not confirmed")
)

package inmemory

import "errors"

var (
	// ErrDisputeNotFound ...
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrDisputeAlreadyExists ...
	ErrDisputeAlreadyExists = errors.New("dispute already exists")
	// ErrOfferAlreadyExists ...
	ErrOfferAlreadyExists = errors.New("offer already exists")
)

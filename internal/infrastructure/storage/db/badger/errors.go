package dbbadger

import "errors"

var (
	// ErrOfferAlreadyExists ...
	ErrOfferAlreadyExists = errors.New("offer already exists")
	// ErrDisputeAlreadyExists ...
	ErrDisputeAlreadyExists = errors.New("dispute already exists")
	// ErrDisputeNotFound ...
	ErrDisputeNotFound = errors.New("dispute not found")
)

package models

import "errors"

var (
	// ErrInvalidArgument is returned for bad pagination, date bounds or
	// unknown filter values. No work is performed when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a looked-up entity does not exist.
	// Filters on unknown targets are not reported with it; they yield
	// empty results instead.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable wraps failures of the record store or the
	// delivery channel. Callers may retry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

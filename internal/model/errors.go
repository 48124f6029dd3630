package model

import "errors"

// Errors shared by the sinks, the merger and the engine.
var (
	// ErrRecordNotFound is returned when no record exists for an id.
	ErrRecordNotFound = errors.New("business record not found")

	// ErrRecordExists is returned by UpsertNew when the id is already stored.
	// Inside a run this means two different URLs derived the same id.
	ErrRecordExists = errors.New("business record already exists")

	// ErrNotAbsoluteURL is returned when a URL lacks a scheme or host.
	ErrNotAbsoluteURL = errors.New("url is not absolute")
)

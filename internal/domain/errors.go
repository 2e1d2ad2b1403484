package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job is missing or has been evicted
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when a job is no longer pending
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in pending status")

	// ErrJobFinalized is returned when writing to a job in a terminal state
	ErrJobFinalized = errors.New("job already in terminal state")

	// ErrInvalidTransition is returned for a backwards status change
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJurisdictionNotFound is returned when no governing body matches an address
	ErrJurisdictionNotFound = errors.New("jurisdiction not found")
)

// AbandonedJobMessage is recorded on jobs that outlived the stale cutoff without finishing
const AbandonedJobMessage = "Search did not finish in time and was abandoned."

// JurisdictionNotFoundMessage is the user-facing error for a failed discovery
const JurisdictionNotFoundMessage = "Could not find jurisdiction information for this address."

package pipeline

import "errors"

var (
	// ErrUnauthorized rejects a trigger whose token does not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSourceUnavailable aborts a whole batch: candidates could not be listed.
	ErrSourceUnavailable = errors.New("candidate source unavailable")
	// ErrCandidateIneligible skips a candidate until its data is complete.
	ErrCandidateIneligible = errors.New("candidate ineligible")
	ErrPersistence         = errors.New("persistence failed")
	ErrRender              = errors.New("render failed")
	ErrDelivery            = errors.New("delivery failed")
	// ErrMarkerWrite means the document went out but the candidate may be
	// selected again.
	ErrMarkerWrite = errors.New("processed marker write failed")
)

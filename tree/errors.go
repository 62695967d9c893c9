package tree

import "errors"

var (
	ErrTreeNotFound    = errors.New("tree not found")
	ErrInvalidTree     = errors.New("invalid tree")
	ErrUnknownNodeType = errors.New("unknown node type")
	ErrJourneyNotFound = errors.New("journey not found")
	ErrJourneyExpired  = errors.New("journey expired")
	// ErrStaleAnswers is returned when submitted answers do not belong to the most
	// recent prompt of the journey.
	ErrStaleAnswers       = errors.New("answers do not match the current prompt")
	ErrNotAwaitingAnswers = errors.New("journey is not awaiting answers")
)

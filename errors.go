package goAuthTree

import (
	"errors"

	"github.com/MrEthical07/goAuthTree/tree"
)

var (
	// ErrEngineNotReady is returned by methods of a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")

	// ErrTreeNotFound is returned when a journey names a tree that was never loaded.
	ErrTreeNotFound = tree.ErrTreeNotFound
	// ErrInvalidTree wraps every tree validation and node configuration failure.
	ErrInvalidTree = tree.ErrInvalidTree
	// ErrUnknownNodeType is returned when a tree document names an unregistered node type.
	ErrUnknownNodeType = tree.ErrUnknownNodeType
	// ErrJourneyNotFound is returned for unknown, finished or expired journey ids and for
	// used resume links.
	ErrJourneyNotFound = tree.ErrJourneyNotFound
	// ErrJourneyExpired is returned when a round arrives after the journey budget ran out.
	ErrJourneyExpired = tree.ErrJourneyExpired
	// ErrStaleAnswers is returned when the round nonce does not match the latest prompt.
	ErrStaleAnswers = tree.ErrStaleAnswers
	// ErrNotAwaitingAnswers is returned when answers arrive for a suspended journey.
	ErrNotAwaitingAnswers = tree.ErrNotAwaitingAnswers
)

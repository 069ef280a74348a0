package twain

import "fmt"

// session holds the protocol stage and everything negotiated along the way.
// It performs no driver calls; Manager drives it.
type session struct {
	stage Stage

	app      Identity
	selected Identity // chosen by the user, not necessarily open
	open     Identity // bound for operations, not necessarily selected

	negotiatedCount int16

	// the source asked to close while a batch was running
	closePending bool
}

func newSession(app Identity) *session {
	return &session{
		stage: StageUnloaded,
		app:   app,
	}
}

// transition moves exactly one stage, refusing anything the table does not allow
func (s *session) transition(to Stage) error {
	if !CanTransition(s.stage, to) {
		return fmt.Errorf("transition %s -> %s: %w", s.stage, to, ErrSequence)
	}

	s.stage = to

	return nil
}

// forceClose collapses any source stage straight back to StageManagerOpen
func (s *session) forceClose() error {
	if !CanForceClose(s.stage) {
		return fmt.Errorf("force close from %s: %w", s.stage, ErrSequence)
	}

	s.stage = StageManagerOpen
	s.open = Identity{}
	s.negotiatedCount = 0
	s.closePending = false

	return nil
}

func (s *session) sourceOpened() {
	s.open = s.selected
	s.negotiatedCount = 0
}

func (s *session) sourceClosed() {
	s.open = Identity{}
	s.negotiatedCount = 0
	s.closePending = false
}

func (s *session) atLeast(stage Stage) bool {
	return s.stage >= stage
}

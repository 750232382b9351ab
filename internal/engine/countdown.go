package engine

import "fmt"

// Every start, cancel, reveal and reset bumps CountdownGen. A tick carries the
// generation it was scheduled for and is rejected with ErrStaleTimer once the
// room has moved on, so a cancelled countdown can never reveal.

func startCountdown(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	switch r.RevealStage {
	case RevealCountdown:
		return nil, ErrAlreadyInProgress
	case RevealRevealed:
		return nil, fmt.Errorf("%w: cards are already revealed", ErrInvalidTransition)
	}
	if !r.CountdownEnabled {
		return reveal(r), nil
	}

	from := r.CountdownFrom
	if from <= 0 {
		from = DefaultCountdownFrom
	}
	r.RevealStage = RevealCountdown
	r.CountdownValue = from
	r.CountdownGen++
	return []Event{{Type: EvtCountdownStarted, Value: from, Generation: r.CountdownGen}}, nil
}

func countdownTick(r *Room, cmd Command) ([]Event, error) {
	if !cmd.System {
		return nil, fmt.Errorf("%w: countdown ticks are internal", ErrForbidden)
	}
	if r.RevealStage != RevealCountdown || cmd.Generation != r.CountdownGen {
		return nil, ErrStaleTimer
	}
	r.CountdownValue--
	if r.CountdownValue > 0 {
		return []Event{{Type: EvtCountdownTicked, Value: r.CountdownValue, Generation: r.CountdownGen}}, nil
	}
	events := []Event{{Type: EvtCountdownTicked, Value: 0, Generation: r.CountdownGen}}
	return append(events, reveal(r)...), nil
}

func cancelCountdown(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	if r.RevealStage != RevealCountdown {
		return nil, fmt.Errorf("%w: no countdown is running", ErrInvalidTransition)
	}
	r.RevealStage = RevealCancelled
	r.CountdownValue = 0
	r.CountdownGen++
	return []Event{{Type: EvtCountdownCancelled, Generation: r.CountdownGen}}, nil
}

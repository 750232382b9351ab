package engine

import (
	"fmt"
	"slices"
	"strings"
)

// updateDeck replaces the deck wholesale. Picks that are no longer part of
// the deck are dropped from the table.
func updateDeck(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	cards := NormalizeCards(cmd.Cards)
	if len(cards) == 0 {
		return nil, fmt.Errorf("%w: a deck needs at least one card", ErrInvalidArgument)
	}
	if slices.Equal(cards, r.Deck.Cards) {
		return nil, nil
	}
	r.Deck.Cards = cards

	events := []Event{{Type: EvtDeckUpdated}}
	for i, u := range r.Users {
		card, ok := r.Game.Table[u.ID]
		if !ok || slices.Contains(cards, card) {
			continue
		}
		delete(r.Game.Table, u.ID)
		r.Users[i].LastCardPicked = nil
		r.Users[i].LastCardValue = nil
		events = append(events, Event{Type: EvtVoteRetracted, UserID: u.ID})
	}
	return events, nil
}

func renameRoom(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cmd.Name)
	if name == r.Name {
		return nil, nil
	}
	r.Name = name
	return []Event{{Type: EvtRoomRenamed}}, nil
}

func toggleCountdown(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	if r.CountdownEnabled == cmd.Enabled {
		return nil, nil
	}
	r.CountdownEnabled = cmd.Enabled
	return []Event{{Type: EvtSettingsChanged}}, nil
}

func toggleConfirmNewGame(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	if r.ConfirmNewGame == cmd.Enabled {
		return nil, nil
	}
	r.ConfirmNewGame = cmd.Enabled
	return []Event{{Type: EvtSettingsChanged}}, nil
}

package engine

import (
	"fmt"
	"slices"
)

// pickCard records the user's vote for this round. Sending the card that is
// already on the table, or the empty string, retracts the vote.
func pickCard(r *Room, cmd Command) ([]Event, error) {
	i := r.userIndex(cmd.UserID)
	if i < 0 {
		return nil, fmt.Errorf("%w: user %s is not in room %s", ErrNotFound, cmd.UserID, r.ID)
	}
	if r.RevealStage == RevealRevealed {
		return nil, fmt.Errorf("%w: cards are already revealed", ErrInvalidTransition)
	}
	if cmd.Card != "" && !slices.Contains(r.Deck.Cards, cmd.Card) {
		return nil, fmt.Errorf("%w: %q is not in the deck", ErrInvalidCard, cmd.Card)
	}

	current, voted := r.Game.Table[cmd.UserID]
	if cmd.Card == "" || (voted && current == cmd.Card) {
		if !voted {
			return nil, nil
		}
		delete(r.Game.Table, cmd.UserID)
		r.Users[i].LastCardPicked = nil
		r.Users[i].LastCardValue = nil
		return []Event{{Type: EvtVoteRetracted, UserID: cmd.UserID}}, nil
	}

	r.Game.Table[cmd.UserID] = cmd.Card
	card := cmd.Card
	r.Users[i].LastCardPicked = &card
	r.Users[i].LastCardValue = nil
	if v, ok := CardValue(card); ok {
		r.Users[i].LastCardValue = &v
	}
	return []Event{{Type: EvtCardPicked, UserID: cmd.UserID, Card: card}}, nil
}

func showCards(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	switch r.RevealStage {
	case RevealCountdown:
		return nil, fmt.Errorf("%w: a countdown is running", ErrInvalidTransition)
	case RevealRevealed:
		return nil, fmt.Errorf("%w: cards are already revealed", ErrInvalidTransition)
	}
	return reveal(r), nil
}

// resetGame starts a new round. The owner may force it from any stage.
func resetGame(r *Room, cmd Command) ([]Event, error) {
	if err := authorize(r, cmd); err != nil {
		return nil, err
	}
	clear(r.Game.Table)
	for i := range r.Users {
		r.Users[i].LastCardPicked = nil
		r.Users[i].LastCardValue = nil
	}
	r.RevealStage = RevealNone
	r.CountdownValue = 0
	r.CountdownGen++
	return []Event{{Type: EvtGameReset, Generation: r.CountdownGen}}, nil
}

func reveal(r *Room) []Event {
	r.RevealStage = RevealRevealed
	r.CountdownValue = 0
	r.CountdownGen++
	return []Event{{Type: EvtCardsRevealed, Generation: r.CountdownGen}}
}

package engine

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultCountdownFrom = 3
const DefaultChatRetention = 200

var DefaultCards = []string{"0", "1", "2", "3", "5", "8", "13", "21", "?", "☕"}

// NewRoom builds an empty room with the given deck. Deck and game ids are
// derived from the room id so that a rehydrated room keeps them.
func NewRoom(id, name string, cards []string, at time.Time) Room {
	deck := NormalizeCards(cards)
	if len(deck) == 0 {
		deck = slices.Clone(DefaultCards)
	}
	return Room{
		ID:   id,
		Name: strings.TrimSpace(name),
		Deck: Deck{
			ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("deck/"+id)).String(),
			Cards: deck,
		},
		Game: Game{
			ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("game/"+id)).String(),
			Table: map[string]string{},
		},
		CountdownEnabled: true,
		CountdownFrom:    DefaultCountdownFrom,
		RevealStage:      RevealNone,
		ChatRetention:    DefaultChatRetention,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// Clone returns a deep copy so snapshots handed to subscribers never alias
// the actor's working state.
func (r Room) Clone() Room {
	c := r
	c.Users = make([]User, len(r.Users))
	for i, u := range r.Users {
		c.Users[i] = u.clone()
	}
	c.BannedUsers = slices.Clone(r.BannedUsers)
	c.Deck.Cards = slices.Clone(r.Deck.Cards)
	c.Game.Table = make(map[string]string, len(r.Game.Table))
	for k, v := range r.Game.Table {
		c.Game.Table[k] = v
	}
	c.ChatHistory = make([]ChatMessage, len(r.ChatHistory))
	for i, m := range r.ChatHistory {
		c.ChatHistory[i] = m.Clone()
	}
	return c
}

func (u User) clone() User {
	c := u
	if u.LastCardPicked != nil {
		v := *u.LastCardPicked
		c.LastCardPicked = &v
	}
	if u.LastCardValue != nil {
		v := *u.LastCardValue
		c.LastCardValue = &v
	}
	return c
}

func (m ChatMessage) Clone() ChatMessage {
	c := m
	if m.FormattedContent != nil {
		v := *m.FormattedContent
		c.FormattedContent = &v
	}
	if m.Position != nil {
		p := *m.Position
		c.Position = &p
	}
	return c
}

func (r Room) IsGameOver() bool {
	return r.RevealStage == RevealRevealed
}

func (r Room) HasUser(id string) bool {
	return r.userIndex(id) >= 0
}

func (r Room) IsBanned(id string) bool {
	return slices.Contains(r.BannedUsers, id)
}

func (r Room) User(id string) (User, bool) {
	if i := r.userIndex(id); i >= 0 {
		return r.Users[i], true
	}
	return User{}, false
}

func (r Room) userIndex(id string) int {
	return slices.IndexFunc(r.Users, func(u User) bool { return u.ID == id })
}

// Table lists the current picks in roster order.
func (r Room) Table() []UserCard {
	out := make([]UserCard, 0, len(r.Game.Table))
	for _, u := range r.Users {
		card, ok := r.Game.Table[u.ID]
		if !ok {
			continue
		}
		out = append(out, UserCard{UserID: u.ID, Card: &card})
	}
	return out
}

// VoteAverage is the mean of numeric picks once the cards are revealed.
func (r Room) VoteAverage() (float64, bool) {
	if !r.IsGameOver() {
		return 0, false
	}
	var sum float64
	var n int
	for _, card := range r.Game.Table {
		if v, ok := CardValue(card); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// CardValue is the numeric projection of a card label; "?" or "☕" have none.
func CardValue(card string) (float64, bool) {
	card = strings.TrimSpace(card)
	if card == "½" {
		return 0.5, true
	}
	v, err := strconv.ParseFloat(card, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// NormalizeCards trims labels, drops empty ones and keeps the first of any duplicates.
func NormalizeCards(cards []string) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		c = strings.TrimSpace(c)
		if c == "" || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

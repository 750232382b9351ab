package engine

import (
	"fmt"
	"time"
)

type RevealStage string

const (
	RevealNone      RevealStage = "NONE"
	RevealCountdown RevealStage = "COUNTDOWN"
	RevealCancelled RevealStage = "CANCELLED"
	RevealRevealed  RevealStage = "REVEALED"
)

type User struct {
	ID             string
	Username       string
	LastCardPicked *string
	LastCardValue  *float64
}

type Deck struct {
	ID    string
	Cards []string
}

// Game is the live table of one round: at most one card per user id.
type Game struct {
	ID    string
	Table map[string]string
}

type UserCard struct {
	UserID string
	Card   *string
}

type Position struct {
	X float64
	Y float64
}

type ChatMessage struct {
	ID               string
	RoomID           string
	UserID           string
	Username         string
	Content          string
	FormattedContent *string
	ContentType      string
	Timestamp        time.Time
	Position         *Position // transport only, never kept in history
}

type RoomEventType string

const (
	RoomEventKick  RoomEventType = "KICK"
	RoomEventBan   RoomEventType = "BAN"
	RoomEventUnban RoomEventType = "UNBAN"
)

type RoomEvent struct {
	RoomID       string
	EventType    RoomEventType
	TargetUserID string
}

type Room struct {
	ID               string
	Name             string
	RoomOwnerID      string
	Users            []User
	BannedUsers      []string
	Deck             Deck
	Game             Game
	CountdownEnabled bool
	CountdownFrom    int
	RevealStage      RevealStage
	CountdownValue   int
	CountdownGen     uint64
	ConfirmNewGame   bool
	ChatHistory      []ChatMessage
	ChatRetention    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type CommandType string

const (
	CmdJoin                 CommandType = "Join"
	CmdLeave                CommandType = "Leave"
	CmdKick                 CommandType = "Kick"
	CmdBan                  CommandType = "Ban"
	CmdUnban                CommandType = "Unban"
	CmdSetOwner             CommandType = "SetOwner"
	CmdRenameUser           CommandType = "RenameUser"
	CmdPickCard             CommandType = "PickCard"
	CmdShowCards            CommandType = "ShowCards"
	CmdResetGame            CommandType = "ResetGame"
	CmdStartCountdown       CommandType = "StartCountdown"
	CmdCountdownTick        CommandType = "CountdownTick"
	CmdCancelCountdown      CommandType = "CancelCountdown"
	CmdUpdateDeck           CommandType = "UpdateDeck"
	CmdRenameRoom           CommandType = "RenameRoom"
	CmdToggleCountdown      CommandType = "ToggleCountdown"
	CmdToggleConfirmNewGame CommandType = "ToggleConfirmNewGame"
	CmdSendChat             CommandType = "SendChat"
)

/*
	CmdJoin            -> EvtUserJoined | EvtUserRenamed, maybe EvtRoomRenamed, maybe EvtOwnerChanged
	CmdLeave           -> EvtUserLeft, maybe EvtOwnerChanged
	CmdKick / CmdBan   -> EvtUserKicked / EvtUserBanned (+ EvtOwnerChanged when the owner is removed)
	CmdPickCard        -> EvtCardPicked | EvtVoteRetracted
	CmdStartCountdown  -> EvtCountdownStarted, or EvtCardsRevealed when countdowns are disabled
	CmdCountdownTick   -> EvtCountdownTicked, plus EvtCardsRevealed on the last tick
	CmdCancelCountdown -> EvtCountdownCancelled
	CmdResetGame       -> EvtGameReset
*/

// Command is one requested transition. ActorID is the caller; System marks
// transitions issued by the coordinator itself (timers, cleanup) which skip
// ownership checks.
type Command struct {
	Type       CommandType
	ActorID    string
	System     bool
	UserID     string
	Username   string
	OwnerID    string
	RoomName   string
	Card       string
	Cards      []string
	Name       string
	Enabled    bool
	Generation uint64
	Message    ChatMessage
	At         time.Time
}

type EventType string

const (
	EvtUserJoined         EventType = "UserJoined"
	EvtUserLeft           EventType = "UserLeft"
	EvtUserKicked         EventType = "UserKicked"
	EvtUserBanned         EventType = "UserBanned"
	EvtUserUnbanned       EventType = "UserUnbanned"
	EvtUserRenamed        EventType = "UserRenamed"
	EvtOwnerChanged       EventType = "OwnerChanged"
	EvtCardPicked         EventType = "CardPicked"
	EvtVoteRetracted      EventType = "VoteRetracted"
	EvtCardsRevealed      EventType = "CardsRevealed"
	EvtGameReset          EventType = "GameReset"
	EvtCountdownStarted   EventType = "CountdownStarted"
	EvtCountdownTicked    EventType = "CountdownTicked"
	EvtCountdownCancelled EventType = "CountdownCancelled"
	EvtDeckUpdated        EventType = "DeckUpdated"
	EvtRoomRenamed        EventType = "RoomRenamed"
	EvtSettingsChanged    EventType = "SettingsChanged"
	EvtChatMessageSent    EventType = "ChatMessageSent"
)

type Event struct {
	Type       EventType
	UserID     string
	Card       string
	Value      int
	Generation uint64
	Message    *ChatMessage
}

// Apply runs cmd against r. The input room is never modified; on error the
// original room is returned unchanged. A nil event slice with a nil error
// means the command was accepted but changed nothing.
func Apply(r Room, cmd Command) ([]Event, Room, error) {
	next := r.Clone()

	var (
		events []Event
		err    error
	)

	switch cmd.Type {
	case CmdJoin:
		events, err = join(&next, cmd)
	case CmdLeave:
		events, err = leave(&next, cmd)
	case CmdKick:
		events, err = kick(&next, cmd)
	case CmdBan:
		events, err = ban(&next, cmd)
	case CmdUnban:
		events, err = unban(&next, cmd)
	case CmdSetOwner:
		events, err = setOwner(&next, cmd)
	case CmdRenameUser:
		events, err = renameUser(&next, cmd)
	case CmdPickCard:
		events, err = pickCard(&next, cmd)
	case CmdShowCards:
		events, err = showCards(&next, cmd)
	case CmdResetGame:
		events, err = resetGame(&next, cmd)
	case CmdStartCountdown:
		events, err = startCountdown(&next, cmd)
	case CmdCountdownTick:
		events, err = countdownTick(&next, cmd)
	case CmdCancelCountdown:
		events, err = cancelCountdown(&next, cmd)
	case CmdUpdateDeck:
		events, err = updateDeck(&next, cmd)
	case CmdRenameRoom:
		events, err = renameRoom(&next, cmd)
	case CmdToggleCountdown:
		events, err = toggleCountdown(&next, cmd)
	case CmdToggleConfirmNewGame:
		events, err = toggleConfirmNewGame(&next, cmd)
	case CmdSendChat:
		events, err = sendChat(&next, cmd)
	default:
		return nil, r, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Type)
	}

	if err != nil {
		return nil, r, err
	}
	if len(events) == 0 {
		return nil, r, nil
	}
	if !cmd.At.IsZero() {
		next.UpdatedAt = cmd.At
	}
	return events, next, nil
}

package storage

import "time"

// RoomRecord holds what outlives a process restart. Rosters, picks and the
// reveal stage are live-only.
type RoomRecord struct {
	ID               string    `gorm:"primaryKey;size:64"`
	Name             string    `gorm:"size:200;not null"`
	Cards            []string  `gorm:"serializer:json;type:text"`
	CountdownEnabled bool      `gorm:"not null"`
	ConfirmNewGame   bool      `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (RoomRecord) TableName() string { return "rooms" }

type BanRecord struct {
	RoomID    string `gorm:"primaryKey;autoIncrement:false;size:64"`
	UserID    string `gorm:"primaryKey;autoIncrement:false;size:64"`
	CreatedAt time.Time
}

func (BanRecord) TableName() string { return "room_bans" }

type ChatMessageRecord struct {
	Seq              uint64  `gorm:"primaryKey;autoIncrement"`
	ID               string  `gorm:"uniqueIndex;size:64;not null"`
	RoomID           string  `gorm:"index;size:64;not null"`
	UserID           string  `gorm:"size:64;not null"`
	Username         string  `gorm:"size:200"`
	Content          string  `gorm:"type:text;not null"`
	FormattedContent *string `gorm:"type:text"`
	ContentType      string  `gorm:"size:32"`
	Timestamp        time.Time
}

func (ChatMessageRecord) TableName() string { return "chat_messages" }

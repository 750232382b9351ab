// Package storage persists the durable part of rooms (name, deck, settings,
// bans and chat) through gorm. Live state stays in the lobbies.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
)

// Repository is what the coordinator writes through to.
type Repository interface {
	SaveRoom(ctx context.Context, room engine.Room) error
	// LoadRoom returns engine.ErrNotFound when id was never saved.
	LoadRoom(ctx context.Context, id string, chatLimit int) (engine.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	AddBan(ctx context.Context, roomID, userID string) error
	RemoveBan(ctx context.Context, roomID, userID string) error
	AppendChat(ctx context.Context, msg engine.ChatMessage) error
}

// Open connects to driver ("postgres" or "sqlite") and migrates the schema.
func Open(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	if log != nil {
		log.Info("database ready", zap.String("driver", driver))
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&RoomRecord{}, &BanRecord{}, &ChatMessageRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

type GormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) SaveRoom(ctx context.Context, room engine.Room) error {
	rec := RoomRecord{
		ID:               room.ID,
		Name:             room.Name,
		Cards:            room.Deck.Cards,
		CountdownEnabled: room.CountdownEnabled,
		ConfirmNewGame:   room.ConfirmNewGame,
		CreatedAt:        room.CreatedAt,
		UpdatedAt:        room.UpdatedAt,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "cards", "countdown_enabled", "confirm_new_game", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", room.ID, err)
	}
	return nil
}

func (r *GormRepository) LoadRoom(ctx context.Context, id string, chatLimit int) (engine.Room, error) {
	db := r.db.WithContext(ctx)

	var rec RoomRecord
	if err := db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Room{}, fmt.Errorf("%w: room %s", engine.ErrNotFound, id)
		}
		return engine.Room{}, fmt.Errorf("failed to load room %s: %w", id, err)
	}

	room := engine.NewRoom(rec.ID, rec.Name, rec.Cards, rec.CreatedAt)
	room.CountdownEnabled = rec.CountdownEnabled
	room.ConfirmNewGame = rec.ConfirmNewGame
	room.UpdatedAt = rec.UpdatedAt
	if chatLimit > 0 {
		room.ChatRetention = chatLimit
	}

	var bans []BanRecord
	if err := db.Where("room_id = ?", id).Order("created_at, user_id").Find(&bans).Error; err != nil {
		return engine.Room{}, fmt.Errorf("failed to load bans of room %s: %w", id, err)
	}
	for _, b := range bans {
		room.BannedUsers = append(room.BannedUsers, b.UserID)
	}

	var msgs []ChatMessageRecord
	if err := db.Where("room_id = ?", id).Order("seq desc").Limit(room.ChatRetention).Find(&msgs).Error; err != nil {
		return engine.Room{}, fmt.Errorf("failed to load chat of room %s: %w", id, err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		room.ChatHistory = append(room.ChatHistory, engine.ChatMessage{
			ID:               m.ID,
			RoomID:           m.RoomID,
			UserID:           m.UserID,
			Username:         m.Username,
			Content:          m.Content,
			FormattedContent: m.FormattedContent,
			ContentType:      m.ContentType,
			Timestamp:        m.Timestamp,
		})
	}
	return room, nil
}

func (r *GormRepository) DeleteRoom(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&ChatMessageRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat of room %s: %w", id, err)
		}
		if err := tx.Where("room_id = ?", id).Delete(&BanRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete bans of room %s: %w", id, err)
		}
		if err := tx.Delete(&RoomRecord{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete room %s: %w", id, err)
		}
		return nil
	})
}

func (r *GormRepository) AddBan(ctx context.Context, roomID, userID string) error {
	rec := BanRecord{RoomID: roomID, UserID: userID, CreatedAt: time.Now()}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to ban %s in room %s: %w", userID, roomID, err)
	}
	return nil
}

func (r *GormRepository) RemoveBan(ctx context.Context, roomID, userID string) error {
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&BanRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to unban %s in room %s: %w", userID, roomID, err)
	}
	return nil
}

func (r *GormRepository) AppendChat(ctx context.Context, msg engine.ChatMessage) error {
	rec := ChatMessageRecord{
		ID:               msg.ID,
		RoomID:           msg.RoomID,
		UserID:           msg.UserID,
		Username:         msg.Username,
		Content:          msg.Content,
		FormattedContent: msg.FormattedContent,
		ContentType:      msg.ContentType,
		Timestamp:        msg.Timestamp,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to store chat message %s: %w", msg.ID, err)
	}
	return nil
}

// Nop keeps everything in memory only.
type Nop struct{}

func (Nop) SaveRoom(context.Context, engine.Room) error { return nil }

func (Nop) LoadRoom(_ context.Context, id string, _ int) (engine.Room, error) {
	return engine.Room{}, fmt.Errorf("%w: room %s", engine.ErrNotFound, id)
}

func (Nop) DeleteRoom(context.Context, string) error             { return nil }
func (Nop) AddBan(context.Context, string, string) error         { return nil }
func (Nop) RemoveBan(context.Context, string, string) error      { return nil }
func (Nop) AppendChat(context.Context, engine.ChatMessage) error { return nil }

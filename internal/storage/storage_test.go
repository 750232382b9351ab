package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// every new connection would get its own empty :memory: database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func TestRepository_SaveAndLoadRoom(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	room := engine.NewRoom("R1", "Sprint 12", []string{"1", "2", "3"}, created)
	room.CountdownEnabled = false
	require.NoError(t, repo.SaveRoom(ctx, room))

	got, err := repo.LoadRoom(ctx, "R1", 0)
	require.NoError(t, err)
	assert.Equal(t, "Sprint 12", got.Name)
	assert.Equal(t, []string{"1", "2", "3"}, got.Deck.Cards)
	assert.Equal(t, room.Deck.ID, got.Deck.ID)
	assert.Equal(t, room.Game.ID, got.Game.ID)
	assert.False(t, got.CountdownEnabled)
	assert.Equal(t, engine.RevealNone, got.RevealStage)
	assert.Empty(t, got.Users)
	assert.True(t, created.Equal(got.CreatedAt))

	t.Run("save again updates in place", func(t *testing.T) {
		room.Name = "Sprint 13"
		room.Deck.Cards = []string{"S", "M", "L"}
		room.ConfirmNewGame = true
		require.NoError(t, repo.SaveRoom(ctx, room))

		got, err := repo.LoadRoom(ctx, "R1", 0)
		require.NoError(t, err)
		assert.Equal(t, "Sprint 13", got.Name)
		assert.Equal(t, []string{"S", "M", "L"}, got.Deck.Cards)
		assert.True(t, got.ConfirmNewGame)
	})

	t.Run("settings flip both ways", func(t *testing.T) {
		room.CountdownEnabled = true
		room.ConfirmNewGame = true
		require.NoError(t, repo.SaveRoom(ctx, room))
		room.CountdownEnabled = false
		room.ConfirmNewGame = false
		require.NoError(t, repo.SaveRoom(ctx, room))

		got, err := repo.LoadRoom(ctx, "R1", 0)
		require.NoError(t, err)
		assert.False(t, got.CountdownEnabled)
		assert.False(t, got.ConfirmNewGame)
	})

	t.Run("unknown room", func(t *testing.T) {
		_, err := repo.LoadRoom(ctx, "nope", 0)
		assert.ErrorIs(t, err, engine.ErrNotFound)
	})
}

func TestRepository_Bans(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.SaveRoom(ctx, engine.NewRoom("R1", "", nil, time.Now())))

	require.NoError(t, repo.AddBan(ctx, "R1", "u1"))
	require.NoError(t, repo.AddBan(ctx, "R1", "u1"))
	require.NoError(t, repo.AddBan(ctx, "R1", "u2"))

	got, err := repo.LoadRoom(ctx, "R1", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, got.BannedUsers)

	require.NoError(t, repo.RemoveBan(ctx, "R1", "u1"))
	require.NoError(t, repo.RemoveBan(ctx, "R1", "never"))

	got, err = repo.LoadRoom(ctx, "R1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, got.BannedUsers)
}

func TestRepository_ChatKeepsNewestInOrder(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.SaveRoom(ctx, engine.NewRoom("R1", "", nil, time.Now())))

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		require.NoError(t, repo.AppendChat(ctx, engine.ChatMessage{
			ID: id, RoomID: "R1", UserID: "u1", Username: "alice",
			Content: "hello " + id, ContentType: "text",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := repo.LoadRoom(ctx, "R1", 2)
	require.NoError(t, err)
	require.Len(t, got.ChatHistory, 2)
	assert.Equal(t, "m3", got.ChatHistory[0].ID)
	assert.Equal(t, "m4", got.ChatHistory[1].ID)
	assert.Equal(t, "alice", got.ChatHistory[1].Username)
	assert.Nil(t, got.ChatHistory[1].Position)
	assert.Equal(t, 2, got.ChatRetention)
}

func TestRepository_DeleteRoom(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveRoom(ctx, engine.NewRoom("R1", "", nil, time.Now())))
	require.NoError(t, repo.AddBan(ctx, "R1", "u1"))
	require.NoError(t, repo.AppendChat(ctx, engine.ChatMessage{ID: "m1", RoomID: "R1", UserID: "u2", Content: "hi"}))
	require.NoError(t, repo.SaveRoom(ctx, engine.NewRoom("R2", "", nil, time.Now())))

	require.NoError(t, repo.DeleteRoom(ctx, "R1"))

	_, err := repo.LoadRoom(ctx, "R1", 0)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	var bans, msgs int64
	require.NoError(t, db.Model(&BanRecord{}).Count(&bans).Error)
	require.NoError(t, db.Model(&ChatMessageRecord{}).Count(&msgs).Error)
	assert.Zero(t, bans)
	assert.Zero(t, msgs)

	_, err = repo.LoadRoom(ctx, "R2", 0)
	assert.NoError(t, err)
}

func TestNop(t *testing.T) {
	var repo Repository = Nop{}
	ctx := context.Background()
	assert.NoError(t, repo.SaveRoom(ctx, engine.NewRoom("R1", "", nil, time.Now())))
	_, err := repo.LoadRoom(ctx, "R1", 0)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	assert.Error(t, err)
}

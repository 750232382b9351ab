package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/engine"
)

const codeAttempts = 5

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

// RoomCreator is the part of the coordinator CreateRoom needs.
type RoomCreator interface {
	CreateRoom(ctx context.Context, roomID, name string, cards []string) (engine.Room, error)
}

type createRoomRequest struct {
	Name  string   `json:"name"`
	Cards []string `json:"cards"`
}

type createRoomResponse struct {
	Code  string   `json:"code"`
	Name  string   `json:"name,omitempty"`
	Cards []string `json:"cards"`
}

// CreateRoom opens a room under a short shareable code.
func CreateRoom(rooms RoomCreator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json body", http.StatusBadRequest)
				return
			}
		}

		for attempt := 0; attempt < codeAttempts; attempt++ {
			code, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate code", http.StatusInternalServerError)
				return
			}
			room, err := rooms.CreateRoom(r.Context(), code, req.Name, req.Cards)
			if errors.Is(err, engine.ErrAlreadyExists) {
				log.Debug("collision on code, regenerating", zap.String("code", code))
				continue
			}
			if err != nil {
				writeError(w, log, err)
				return
			}
			writeJSON(w, http.StatusCreated, createRoomResponse{Code: room.ID, Name: room.Name, Cards: room.Deck.Cards})
			return
		}
		http.Error(w, "failed to allocate a room code", http.StatusServiceUnavailable)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := engine.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case engine.KindInvalidArgument, engine.KindInvalidCard:
		status = http.StatusBadRequest
	case engine.KindTimeout:
		status = http.StatusServiceUnavailable
	case engine.KindInternal:
		log.Error("request failed", zap.Error(err))
		writeJSON(w, status, map[string]string{"code": string(kind), "error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"code": string(kind), "error": err.Error()})
}

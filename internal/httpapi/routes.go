package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker-backend/internal/ws"
)

type Deps struct {
	Rooms  RoomCreator
	Schema *graphql.Schema
	Log    *zap.Logger
	WS     ws.Options
}

func SetupRoutes(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(d.WS.OriginPatterns)))
	r.Use(Viewer)

	socket := ws.Handler(d.Schema, log, d.WS)
	gql := &relay.Handler{Schema: d.Schema}

	// Public routes
	r.Get("/healthz", Healthz)
	r.Post("/rooms", CreateRoom(d.Rooms, log))
	r.Post("/graphql", gql.ServeHTTP)
	r.Get("/graphql", func(w http.ResponseWriter, r *http.Request) {
		if !isUpgrade(r) {
			http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
			return
		}
		socket(w, r)
	})
	return r
}

func corsOptions(patterns []string) cors.Options {
	opts := cors.Options{
		AllowedOrigins: corsOrigins(patterns),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", ViewerHeader},
		MaxAge:         300,
	}
	// go-chi/cors allows every origin when the list is empty.
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return opts
}

// corsOrigins turns websocket host patterns such as "localhost:*" into
// origins for both schemes. Entries that already carry a scheme pass through.
func corsOrigins(patterns []string) []string {
	out := make([]string, 0, 2*len(patterns))
	for _, p := range patterns {
		if p == "*" || strings.Contains(p, "://") {
			out = append(out, p)
			continue
		}
		out = append(out, "http://"+p, "https://"+p)
	}
	return out
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

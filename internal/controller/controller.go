package controller

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aaronkirkham/youtube-sync/internal/room"
)

type controller struct {
	registry    *room.Registry
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	redirectURL string
}

type Controller interface {
	GetMux() http.Handler
}

func NewController(registry *room.Registry, logger *slog.Logger, redirectURL string) Controller {
	return &controller{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		redirectURL: redirectURL,
	}
}

func (c *controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(c.requestIDMw)
	r.Use(c.requestLoggingMw)

	// anyone who visits the server directly should end up at the web app
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, c.redirectURL, http.StatusTemporaryRedirect)
	})

	r.Get("/ws", c.serveWS)

	return r
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/kdimtricp/deepcheck/internal/analysis"
	"go.uber.org/zap"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (app *App) subscribe(w http.ResponseWriter, r *http.Request) (<-chan analysis.SessionUpdate, func(), bool) {
	updates, unsubscribe, err := app.Service.Subscribe(chi.URLParam(r, "id"))
	if errors.Is(err, analysis.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return nil, nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to subscribe")
		return nil, nil, false
	}
	return updates, unsubscribe, true
}

// EventsHandler streams session updates as Server-Sent Events until the run
// finishes or the client goes away.
func (app *App) EventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, unsubscribe, ok := app.subscribe(w, r)
	if !ok {
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientGone := r.Context().Done()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}

			data, err := json.Marshal(update.Data)
			if err != nil {
				app.Logger.Warn("failed to marshal update", zap.Error(err))
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, data)
			flusher.Flush()

		case <-clientGone:
			return
		}
	}
}

// WebSocketHandler pushes the same updates as EventsHandler over a WebSocket,
// one JSON SessionUpdate per message, then closes normally.
func (app *App) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	updates, unsubscribe, ok := app.subscribe(w, r)
	if !ok {
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.Logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	// Control frames are only processed while reading.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "analysis finished"))
				return
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(update); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					app.Logger.Warn("websocket write error", zap.Error(err))
				}
				return
			}

		case <-clientGone:
			return
		}
	}
}

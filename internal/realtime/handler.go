package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Handler upgrades requests to websocket subscribers of h. allowedOrigin "*"
// accepts any origin.
func Handler(h *Hub, allowedOrigin string) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Debug("realtime: ws upgrade")
			return
		}

		client := &Client{
			hub:  h,
			conn: conn,
			send: make(chan []byte, 256),
		}
		// queued before registering; the hub may close send at any time after
		welcome := map[string]any{
			"type": "welcome",
			"now":  time.Now().UTC().Format(time.RFC3339Nano),
		}
		if b, err := json.Marshal(welcome); err == nil {
			client.send <- b
		}

		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	})
}

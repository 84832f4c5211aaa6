package dashboard

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The engine's dashboard feed has no cross-origin write surface;
		// restricting this is the operator's reverse-proxy concern.
		return true
	},
}

// UpgradeHandler returns an http.HandlerFunc that upgrades the request to a
// WebSocket connection, registers a Client with broadcaster, and pumps
// cycle-summary messages to it until the connection closes.
func UpgradeHandler(broadcaster *Broadcaster, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("websocket upgrade failed: %v", err)
			return
		}
		defer ws.Close()

		client := &Client{
			ID:   r.RemoteAddr,
			Send: make(chan interface{}, 256),
		}

		broadcaster.Register(client)
		defer broadcaster.Unregister(client)

		logger.Printf("websocket: client connected from %s", client.ID)

		go writePump(ws, client, logger)
		readPump(ws, client, broadcaster, logger)
	}
}

func writePump(ws *websocket.Conn, client *Client, logger *log.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(message); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Printf("websocket write error for %s: %v", client.ID, err)
				}
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(ws *websocket.Conn, client *Client, broadcaster *Broadcaster, logger *log.Logger) {
	defer func() {
		broadcaster.Unregister(client)
		logger.Printf("websocket: client disconnected from %s", client.ID)
	}()

	ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Printf("websocket read error for %s: %v", client.ID, err)
			}
			return
		}
		// The feed is one-directional (engine -> dashboard); inbound frames
		// are only ping/pong and are otherwise discarded.
	}
}

package perception

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"perception-core/internal/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Open for any origin; a gateway in front restricts this in production.
		return true
	},
}

// WebSocketServer pushes relation changes and validator findings to connected
// clients. Clients are read-only; inbound frames are drained and dropped.
type WebSocketServer struct {
	clients map[*websocket.Conn]bool
	mutex   sync.Mutex
}

func NewWebSocketServer() *WebSocketServer {
	return &WebSocketServer{
		clients: make(map[*websocket.Conn]bool),
	}
}

func (w *WebSocketServer) HandleWebSocket(wr http.ResponseWriter, r *http.Request) {
	log := logger.Component("websocket")

	conn, err := upgrader.Upgrade(wr, r, nil)
	if err != nil {
		log.WithError(err).Warn("Failed to upgrade connection")
		return
	}
	defer conn.Close()

	w.mutex.Lock()
	w.clients[conn] = true
	w.mutex.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.WithError(err).Debug("Client disconnected")
			w.mutex.Lock()
			delete(w.clients, conn)
			w.mutex.Unlock()
			break
		}
	}
}

func (w *WebSocketServer) BroadcastMessage(message []byte) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	for client := range w.clients {
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Component("websocket").WithError(err).Debug("Dropping client")
			client.Close()
			delete(w.clients, client)
		}
	}
}

func (w *WebSocketServer) BroadcastLoop(broadcast <-chan []byte) {
	for message := range broadcast {
		w.BroadcastMessage(message)
	}
}

package gamebridge

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the game client WebSocket endpoint in front of a Hub.
type Server struct {
	hub    *Hub
	logger *zap.Logger
}

func NewServer(hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{hub: hub, logger: logger}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := NewClient(uuid.NewString(), conn)
	s.hub.Register(client)
	defer s.hub.Unregister(client.ID())

	s.logger.Info("game client connected", zap.String("client_id", client.ID()))
	go client.WriteLoop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("game client disconnected", zap.String("client_id", client.ID()))
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError(client, "invalid message")
			continue
		}

		switch msg.Type {
		case ClientMessageTypeSubscribe:
			s.hub.Subscribe(client.ID(), msg.Topics)
		case ClientMessageTypeUnsubscribe:
			s.hub.Unsubscribe(client.ID(), msg.Topics)
		case ClientMessageTypePing:
			if !client.Queue(ServerMessage{Type: ServerMessageTypePong}) {
				return
			}
		default:
			s.sendError(client, "unsupported message type")
		}
	}
}

func (s *Server) sendError(client *Client, message string) {
	client.Queue(ServerMessage{Type: ServerMessageTypeError, Message: message})
}

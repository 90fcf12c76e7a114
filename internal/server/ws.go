package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/franckalain/chocobrew/internal/quality"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// handleWebSocket scores measurements as they are typed, without storing
// anything.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	s.clients.Store(clientID, conn)
	defer s.clients.Delete(clientID)

	log := s.log.With(zap.String("client_id", clientID))
	log.Debug("WebSocket client connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Error reading message", zap.Error(err))
			}
			break
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendError(conn, "Invalid message format", "")
			continue
		}

		switch msg.Type {
		case "preview":
			s.handlePreview(conn, msg.Data)
		default:
			s.sendError(conn, "Unknown message type", "")
		}
	}
}

func (s *Server) handlePreview(conn *websocket.Conn, data map[string]any) {
	raw := make(map[string]string, len(quality.FeatureNames))
	for _, name := range quality.FeatureNames {
		switch v := data[name].(type) {
		case nil:
		case string:
			raw[name] = v
		default:
			raw[name] = fmt.Sprint(v)
		}
	}

	assessment, err := s.batches.Preview(raw)
	if err != nil {
		var verr *quality.ValidationError
		if errors.As(err, &verr) {
			s.sendError(conn, verr.Error(), verr.Field)
			return
		}
		s.sendError(conn, "Failed to score measurements", "")
		return
	}
	s.sendMessage(conn, "preview_result", assessment)
}

func (s *Server) sendMessage(conn *websocket.Conn, messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn("Error sending message", zap.String("type", messageType), zap.Error(err))
	}
}

func (s *Server) sendError(conn *websocket.Conn, message, field string) {
	msg := map[string]any{
		"type":    "error",
		"message": message,
	}
	if field != "" {
		msg["field"] = field
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn("Error sending error message", zap.Error(err))
	}
}

// closeClients drops open preview connections. http.Server.Shutdown does not
// track hijacked connections.
func (s *Server) closeClients() {
	s.clients.Range(func(key, value any) bool {
		if conn, ok := value.(*websocket.Conn); ok {
			conn.Close()
		}
		s.clients.Delete(key)
		return true
	})
}

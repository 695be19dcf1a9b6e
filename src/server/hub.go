package server

import (
	"net/http"

	"traffic-observer/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop. Only this goroutine touches the
// client set.
func (s *Server) handleWebsockets() {
	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.clientCount.Store(int64(len(s.clients)))

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				s.clientCount.Store(int64(len(s.clients)))
			}

		case event := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- event:
				default:
					// Client too slow, disconnect to prevent Hub blocking.
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.clientCount.Store(int64(len(s.clients)))
		}
	}
}

// -----------------------------------------------------------------------------
// Refresh Notifier Implementation
// -----------------------------------------------------------------------------

// NotifyRefresh tells every connected dashboard that a load brought in new
// rows. Non-blocking: if the broadcast queue is full the event is dropped,
// clients catch up on their next query anyway.
func (s *Server) NotifyRefresh(report models.MLoadReport) {
	event := models.MRefreshEvent{
		Type:         "refresh",
		RowsLoaded:   report.RowsLoaded,
		RowsRejected: report.RowsRejected,
		NewWatermark: report.NewWatermark,
	}

	select {
	case s.broadcast <- event:
	default:
		s.Logger.Warning("Refresh broadcast queue full, dropping event")
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan models.MRefreshEvent, 16),
	}

	s.register <- client

	go client.writePump()
	go client.readPump()
}

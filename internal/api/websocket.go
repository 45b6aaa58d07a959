package api

import (
	"log"
	"net/http"

	"copytrade-core/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame wraps a bus payload with its event name for the stream.
type wsFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// websocket streams trade lifecycle events to the connected client until
// either side drops.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	streamed := []events.Event{
		events.EventTradeEnqueued,
		events.EventTradeExecuted,
		events.EventTradeFailed,
		events.EventStopUpdated,
		events.EventRiskAlert,
		events.EventHealthChanged,
	}

	merged := make(chan wsFrame, 256)
	done := make(chan struct{})
	defer close(done)

	for _, ev := range streamed {
		stream, unsub := s.Bus.Subscribe(ev, 100)
		defer unsub()
		go func(name string, ch <-chan any) {
			for {
				select {
				case <-done:
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- wsFrame{Event: name, Payload: msg}:
					case <-done:
						return
					}
				}
			}
		}(string(ev), stream)
	}

	for frame := range merged {
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

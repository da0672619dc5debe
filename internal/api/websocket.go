package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"momentum-trader/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamMessage is one bus event as sent to websocket clients.
type streamMessage struct {
	Topic events.Topic `json:"topic"`
	Data  any          `json:"data"`
}

// streamTopics parses ?topics=a,b. Quotes are noisy and only streamed when
// asked for by name.
func streamTopics(raw string) []events.Topic {
	if raw == "" {
		out := make([]events.Topic, 0, len(events.AllTopics))
		for _, t := range events.AllTopics {
			if t != events.TopicQuote {
				out = append(out, t)
			}
		}
		return out
	}
	known := make(map[events.Topic]bool, len(events.AllTopics))
	for _, t := range events.AllTopics {
		known[t] = true
	}
	var out []events.Topic
	for _, part := range strings.Split(raw, ",") {
		t := events.Topic(strings.TrimSpace(part))
		if known[t] {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) websocket(c *gin.Context) {
	topics := streamTopics(c.Query("topics"))
	if len(topics) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_TOPICS", "no known topic requested")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	done := make(chan struct{})
	out := make(chan streamMessage, 256)
	var wg sync.WaitGroup
	for _, t := range topics {
		stream, unsub := s.Bus.Subscribe(t, 100)
		defer unsub()
		wg.Add(1)
		go func(topic events.Topic, stream <-chan any) {
			defer wg.Done()
			for {
				select {
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case out <- streamMessage{Topic: topic, Data: msg}:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(t, stream)
	}
	defer wg.Wait()
	defer close(done)

	// Reader: detect client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debugf("ws write error: %v", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

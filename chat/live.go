package chat

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"municonsole_back/apperr"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 30 * time.Second
)

// Sockets authenticate with a bearer or session token, never a cookie.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleLive streams the messages of a thread over a websocket. Messages
// after ?after_seq= are replayed first, then new ones are pushed as they
// are appended.
func (s *Service) handleLive(c *gin.Context) {
	thread, err := s.Thread(c.Request.Context(), participant(c), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err, "failed to load thread")
		return
	}
	afterSeq, _ := strconv.Atoi(c.Query("after_seq"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("chat: upgrade live connection: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	live, _ := s.hub.Subscribe(ctx, thread.ID)
	backlog, err := s.Since(ctx, thread.ID, afterSeq)
	if err != nil {
		log.Printf("chat: load backlog for thread %s: %v", thread.ID, err)
		return
	}

	lastSeq := afterSeq
	send := func(msg Message) bool {
		if msg.Seq <= lastSeq {
			return true
		}
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return false
		}
		lastSeq = msg.Seq
		return true
	}
	for _, msg := range MergeMessages(backlog, drain(live)) {
		if !send(msg) {
			return
		}
	}

	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-live:
			if !ok || !send(msg) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// drain takes whatever is already buffered on ch without blocking.
func drain(ch <-chan Message) []Message {
	var out []Message
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

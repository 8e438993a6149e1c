package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"

	"github.com/gin-gonic/gin"
)

const visitorContextKey = "chat.visitor"

// RegisterRoutes mounts the staff chat API under /api/chat.
func RegisterRoutes(router gin.IRouter, service *Service, guard *authorization.Guard) {
	group := router.Group("/api/chat", guard.RequireAuthenticated())
	service.mount(group)
}

// RegisterWidgetRoutes mounts the same API under /api/widget for visitors
// holding a contact session token.
func RegisterWidgetRoutes(router gin.IRouter, service *Service, resolver VisitorResolver) {
	group := router.Group("/api/widget", requireVisitor(resolver))
	service.mount(group)
}

func (s *Service) mount(group *gin.RouterGroup) {
	group.POST("/threads", s.handleCreateThread)
	group.GET("/threads", s.handleListThreads)
	group.GET("/threads/:id", s.handleGetThread)
	group.GET("/threads/:id/messages", s.handleListMessages)
	group.POST("/threads/:id/messages", s.handleSend)
	group.GET("/threads/:id/live", s.handleLive)
}

// SessionToken reads a widget session token from the request.
func SessionToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader("X-Session-Token")); token != "" {
		return token
	}
	if header := strings.TrimSpace(c.GetHeader("Authorization")); len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}

func requireVisitor(resolver VisitorResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session token required"})
			return
		}
		visitor, err := resolver.ResolveVisitor(c.Request.Context(), token)
		if err != nil {
			apperr.Respond(c, err, "failed to verify session")
			c.Abort()
			return
		}
		c.Set(visitorContextKey, visitor)
		c.Next()
	}
}

func participant(c *gin.Context) Participant {
	if value, ok := c.Get(visitorContextKey); ok {
		if visitor, ok := value.(*Visitor); ok {
			return Participant{Visitor: visitor}
		}
	}
	return Participant{Staff: authorization.CurrentIdentity(c)}
}

// handleCreateThread godoc
// @Summary 创建会话
// @Tags Chat
// @Accept json
// @Produce json
// @Param request body ThreadInput true "助手与标题"
// @Success 201 {object} map[string]interface{} "会话"
func (s *Service) handleCreateThread(c *gin.Context) {
	var in ThreadInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	thread, err := s.CreateThread(c.Request.Context(), participant(c), in)
	if err != nil {
		apperr.Respond(c, err, "failed to create thread")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread": thread})
}

func (s *Service) handleListThreads(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	threads, err := s.Threads(c.Request.Context(), participant(c), limit)
	if err != nil {
		apperr.Respond(c, err, "failed to list threads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

func (s *Service) handleGetThread(c *gin.Context) {
	thread, err := s.Thread(c.Request.Context(), participant(c), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err, "failed to load thread")
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": thread})
}

// handleListMessages godoc
// @Summary 分页获取会话消息
// @Description 按时间倒序返回消息，使用 next_cursor 加载更早的消息
// @Tags Chat
// @Produce json
// @Param id path string true "会话ID"
// @Param cursor query string false "分页游标"
// @Param limit query int false "每页数量"
func (s *Service) handleListMessages(c *gin.Context) {
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	page, err := s.Messages(c.Request.Context(), participant(c), c.Param("id"), cursor, limit)
	if err != nil {
		apperr.Respond(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, page)
}

// handleSend godoc
// @Summary 发送消息并生成回复
// @Description Accept 为 text/event-stream 时以 SSE 推送增量内容
// @Tags Chat
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body MessageInput true "消息内容"
// @Success 201 {object} SendResult
func (s *Service) handleSend(c *gin.Context) {
	var in MessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	p := participant(c)
	threadID := c.Param("id")

	flusher, ok := c.Writer.(http.Flusher)
	if !wantsEventStream(c) || !ok {
		result, err := s.Send(c.Request.Context(), p, threadID, in, nil)
		if err != nil {
			apperr.Respond(c, err, "failed to send message")
			return
		}
		c.JSON(http.StatusCreated, result)
		return
	}

	// Errors before the first byte are still reported as JSON.
	if _, err := s.Thread(c.Request.Context(), p, threadID); err != nil {
		apperr.Respond(c, err, "failed to load thread")
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		apperr.Respond(c, apperr.Invalid("message is required", map[string]string{"content": "Message is required"}), "")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusCreated)
	writer := newSSEWriter(c.Writer, flusher)
	flusher.Flush()

	result, err := s.Send(c.Request.Context(), p, threadID, in, func(delta Delta) error {
		if delta.Done || delta.Content == "" {
			return nil
		}
		return writer.Send("delta", gin.H{"content": delta.Content})
	})
	if err != nil {
		message := "failed to send message"
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			message = appErr.Message
		}
		_ = writer.Send("error", gin.H{"error": message})
		return
	}
	_ = writer.Send("done", result)
}

// wantsEventStream determines if the client requested a streaming response.
func wantsEventStream(c *gin.Context) bool {
	if strings.Contains(strings.ToLower(c.GetHeader("Accept")), "text/event-stream") {
		return true
	}
	stream, _ := strconv.ParseBool(c.Query("stream"))
	return stream
}

type sseWriter struct {
	writer  gin.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

func newSSEWriter(w gin.ResponseWriter, flusher http.Flusher) *sseWriter {
	return &sseWriter{writer: w, flusher: flusher}
}

// Send writes a single Server-Sent Event.
func (w *sseWriter) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

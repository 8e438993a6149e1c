package contact

import (
	"net/http"
	"strconv"
	"strings"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/chat"
	"municonsole_back/pagination"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the public widget endpoints under /api/contact and
// the staff feedback desk under /api/feedback.
func RegisterRoutes(router gin.IRouter, service *Service, guard *authorization.Guard) {
	public := router.Group("/api/contact")
	public.POST("/sessions", service.handleCreateSession)
	public.POST("/sessions/refresh", service.handleRefresh)
	public.GET("/session", service.handleSession)
	public.POST("/feedback", service.handleSubmitFeedback)
	if service.captcha != nil {
		public.GET("/captcha", service.captcha.Handler())
	}

	staff := router.Group("/api/feedback", guard.RequireAuthenticated())
	staff.GET("", service.handleListFeedback)
	staff.POST("", service.handleFileFeedback)
	staff.PATCH("/:id", service.handleUpdateFeedback)
	staff.DELETE("/:id", service.handleDeleteFeedback)
}

// handleCreateSession godoc
// @Summary 创建访客会话
// @Description 为聊天挂件创建匿名会话并返回签名令牌
// @Tags Contact
// @Accept json
// @Produce json
// @Param request body SessionInput true "助手与访客信息"
// @Success 201 {object} SessionToken
// @Failure 403 {object} map[string]interface{} "助手不可用"
func (s *Service) handleCreateSession(c *gin.Context) {
	var in SessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	session, err := s.CreateSession(c.Request.Context(), in)
	if err != nil {
		apperr.Respond(c, err, "failed to create session")
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Service) handleRefresh(c *gin.Context) {
	session, err := s.Refresh(c.Request.Context(), chat.SessionToken(c))
	if err != nil {
		apperr.Respond(c, err, "failed to refresh session")
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Service) handleSession(c *gin.Context) {
	session, err := s.Session(c.Request.Context(), chat.SessionToken(c))
	if err != nil {
		apperr.Respond(c, err, "failed to load session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// handleSubmitFeedback godoc
// @Summary 提交反馈
// @Description 携带会话令牌或验证码提交反馈工单
// @Tags Contact
// @Accept json
// @Produce json
// @Param request body FeedbackInput true "反馈内容"
// @Success 201 {object} Feedback
func (s *Service) handleSubmitFeedback(c *gin.Context) {
	var in FeedbackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	feedback, err := s.SubmitFeedback(c.Request.Context(), chat.SessionToken(c), in)
	if err != nil {
		apperr.Respond(c, err, "failed to submit feedback")
		return
	}
	c.JSON(http.StatusCreated, feedback)
}

func (s *Service) handleFileFeedback(c *gin.Context) {
	var in FeedbackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	feedback, err := s.FileFeedback(c.Request.Context(), authorization.CurrentIdentity(c), in)
	if err != nil {
		apperr.Respond(c, err, "failed to file feedback")
		return
	}
	c.JSON(http.StatusCreated, feedback)
}

func (s *Service) handleListFeedback(c *gin.Context) {
	filter := FeedbackFilter{
		Status:   strings.TrimSpace(c.Query("status")),
		Type:     strings.TrimSpace(c.Query("type")),
		Priority: strings.TrimSpace(c.Query("priority")),
	}
	if raw := strings.TrimSpace(c.Query("municipality_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid municipality_id"})
			return
		}
		filter.MunicipalityID = id
	}
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
	page, err := s.ListFeedback(c.Request.Context(), authorization.CurrentIdentity(c), filter, cursor, limit)
	if err != nil {
		apperr.Respond(c, err, "failed to list feedback")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Service) handleUpdateFeedback(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in FeedbackUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	feedback, err := s.UpdateFeedback(c.Request.Context(), authorization.CurrentIdentity(c), id, in)
	if err != nil {
		apperr.Respond(c, err, "failed to update feedback")
		return
	}
	c.JSON(http.StatusOK, feedback)
}

func (s *Service) handleDeleteFeedback(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.DeleteFeedback(c.Request.Context(), authorization.CurrentIdentity(c), id); err != nil {
		apperr.Respond(c, err, "failed to delete feedback")
		return
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback id"})
		return 0, false
	}
	return id, true
}

package notifications

import (
	"net/http"
	"strconv"
	"strings"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts /api/notifications.
func RegisterRoutes(router gin.IRouter, service *Service, guard *authorization.Guard) {
	group := router.Group("/api/notifications", guard.RequireAuthenticated())
	group.POST("", guard.RequireManagementRole(authorization.RoleSuperAdmin, authorization.RoleModerator), service.handleSend)
	group.GET("", service.handleList)
	group.GET("/unread-count", service.handleUnreadCount)
	group.POST("/:id/read", service.handleMarkRead)
	group.DELETE("/:id", service.handleDelete)
}

// handleSend godoc
// @Summary 发送通知
// @Description 向指定市政（为空时为全部启用的市政）分发通知，可限定角色
// @Tags Notifications
// @Accept json
// @Produce json
// @Param request body SendInput true "通知内容"
// @Success 201 {object} SendResult "分发结果"
// @Failure 400 {object} map[string]interface{} "字段校验失败"
func (s *Service) handleSend(c *gin.Context) {
	var in SendInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	result, err := s.Send(c.Request.Context(), authorization.CurrentIdentity(c), in)
	if err != nil {
		apperr.Respond(c, err, "failed to send notification")
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Service) handleList(c *gin.Context) {
	municipalityID, ok := municipalityParam(c)
	if !ok {
		return
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
	unread, _ := strconv.ParseBool(c.Query("unread"))

	page, err := s.List(c.Request.Context(), authorization.CurrentIdentity(c), ListFilter{MunicipalityID: municipalityID, UnreadOnly: unread}, cursor, limit)
	if err != nil {
		apperr.Respond(c, err, "failed to list notifications")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Service) handleUnreadCount(c *gin.Context) {
	municipalityID, ok := municipalityParam(c)
	if !ok {
		return
	}
	count, err := s.UnreadCount(c.Request.Context(), authorization.CurrentIdentity(c), municipalityID)
	if err != nil {
		apperr.Respond(c, err, "failed to count notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (s *Service) handleMarkRead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	row, err := s.MarkRead(c.Request.Context(), authorization.CurrentIdentity(c), id)
	if err != nil {
		apperr.Respond(c, err, "failed to mark notification read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification": row})
}

func (s *Service) handleDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.Delete(c.Request.Context(), authorization.CurrentIdentity(c), id); err != nil {
		apperr.Respond(c, err, "failed to delete notification")
		return
	}
	c.Status(http.StatusNoContent)
}

func municipalityParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Query("municipality_id")), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "municipality_id is required"})
		return 0, false
	}
	return id, true
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return 0, false
	}
	return id, true
}

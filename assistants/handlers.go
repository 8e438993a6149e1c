package assistants

import (
	"net/http"
	"strconv"
	"strings"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the assistant endpoints under /api/assistants.
func RegisterRoutes(router gin.IRouter, service *Service, guard *authorization.Guard) {
	group := router.Group("/api/assistants", guard.RequireAuthenticated())
	group.GET("", service.handleList)
	group.POST("", service.handleCreate)
	group.GET("/models", service.handleModels)
	group.GET("/:id", service.handleGet)
	group.PUT("/:id", service.handleUpdate)
	group.DELETE("/:id", service.handleDelete)
}

// handleList godoc
// @Summary 列出助手
// @Description 按调用者角色列出可见的助手
// @Tags Assistants
// @Produce json
// @Param municipality_id query int false "市政 ID"
// @Param type query string false "public/private/custom"
// @Param cursor query string false "分页游标"
// @Param limit query int false "每页数量"
// @Success 200 {object} map[string]interface{} "助手列表"
// @Failure 400 {object} map[string]string "请求参数错误"
func (s *Service) handleList(c *gin.Context) {
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

	filter := ListFilter{Type: strings.ToLower(strings.TrimSpace(c.Query("type")))}
	if raw := strings.TrimSpace(c.Query("municipality_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid municipality id"})
			return
		}
		filter.MunicipalityID = id
	}

	page, err := s.List(c.Request.Context(), authorization.CurrentIdentity(c), filter, cursor, limit)
	if err != nil {
		apperr.Respond(c, err, "failed to list assistants")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Service) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.catalog.Models(), "default": s.catalog.Default()})
}

// handleCreate godoc
// @Summary 创建助手
// @Tags Assistants
// @Accept json
// @Produce json
// @Param request body Input true "助手信息"
// @Success 201 {object} map[string]interface{} "创建成功的助手"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 403 {object} map[string]string "无权限"
func (s *Service) handleCreate(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	assistant, err := s.Create(c.Request.Context(), authorization.CurrentIdentity(c), in)
	if err != nil {
		apperr.Respond(c, err, "failed to create assistant")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assistant": assistant})
}

func (s *Service) handleGet(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	assistant, err := s.GetVisible(c.Request.Context(), authorization.CurrentIdentity(c), id)
	if err != nil {
		apperr.Respond(c, err, "failed to load assistant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"assistant": assistant})
}

func (s *Service) handleUpdate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	assistant, err := s.Update(c.Request.Context(), authorization.CurrentIdentity(c), id, in)
	if err != nil {
		apperr.Respond(c, err, "failed to update assistant")
		return
	}
	c.JSON(http.StatusOK, gin.H{"assistant": assistant})
}

func (s *Service) handleDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.Delete(c.Request.Context(), authorization.CurrentIdentity(c), id); err != nil {
		apperr.Respond(c, err, "failed to delete assistant")
		return
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assistant id"})
		return 0, false
	}
	return id, true
}

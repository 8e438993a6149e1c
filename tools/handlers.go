package tools

import (
	"net/http"
	"strconv"

	"municonsole_back/apperr"
	"municonsole_back/authorization"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts /api/tools and the assistant binding endpoints.
func RegisterRoutes(router gin.IRouter, service *Service, guard *authorization.Guard) {
	superAdmin := guard.RequireManagementRole(authorization.RoleSuperAdmin)

	group := router.Group("/api/tools", guard.RequireAuthenticated())
	group.GET("", service.handleList)
	group.GET("/:id", service.handleGet)
	group.POST("", superAdmin, service.handleCreate)
	group.PUT("/:id", superAdmin, service.handleUpdate)
	group.DELETE("/:id", superAdmin, service.handleDelete)

	bindings := router.Group("/api/assistants/:id/tools", guard.RequireAuthenticated())
	bindings.GET("", service.handleListBindings)
	bindings.POST("", service.handleAttach)
	bindings.PUT("/:tool_id", service.handleUpdateBinding)
	bindings.DELETE("/:tool_id", service.handleDetach)
}

func (s *Service) handleList(c *gin.Context) {
	rows, err := s.List(c.Request.Context(), c.Query("type"))
	if err != nil {
		apperr.Respond(c, err, "failed to list tools")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": rows})
}

func (s *Service) handleGet(c *gin.Context) {
	id, ok := parseParam(c, "id", "invalid tool id")
	if !ok {
		return
	}
	tool, err := s.Get(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, err, "failed to load tool")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": tool})
}

// handleCreate godoc
// @Summary 创建工具
// @Description 名称、描述、类型缺失时一次性返回全部字段错误
// @Tags Tools
// @Accept json
// @Produce json
// @Param request body ToolInput true "工具信息"
// @Success 201 {object} map[string]interface{} "创建成功的工具"
// @Failure 400 {object} map[string]interface{} "字段校验失败"
// @Failure 403 {object} map[string]string "无权限"
func (s *Service) handleCreate(c *gin.Context) {
	var in ToolInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	tool, err := s.Create(c.Request.Context(), authorization.CurrentIdentity(c).UserID, in)
	if err != nil {
		apperr.Respond(c, err, "failed to create tool")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tool": tool})
}

func (s *Service) handleUpdate(c *gin.Context) {
	id, ok := parseParam(c, "id", "invalid tool id")
	if !ok {
		return
	}
	var in ToolInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	tool, err := s.Update(c.Request.Context(), id, in)
	if err != nil {
		apperr.Respond(c, err, "failed to update tool")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool": tool})
}

func (s *Service) handleDelete(c *gin.Context) {
	id, ok := parseParam(c, "id", "invalid tool id")
	if !ok {
		return
	}
	if err := s.Delete(c.Request.Context(), id); err != nil {
		apperr.Respond(c, err, "failed to delete tool")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) handleListBindings(c *gin.Context) {
	assistantID, ok := parseParam(c, "id", "invalid assistant id")
	if !ok {
		return
	}
	rows, err := s.Bindings(c.Request.Context(), authorization.CurrentIdentity(c), assistantID)
	if err != nil {
		apperr.Respond(c, err, "failed to list assistant tools")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": rows})
}

func (s *Service) handleAttach(c *gin.Context) {
	assistantID, ok := parseParam(c, "id", "invalid assistant id")
	if !ok {
		return
	}
	var in BindingInput
	if err := c.ShouldBindJSON(&in); err != nil || in.ToolID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool_id is required"})
		return
	}
	binding, err := s.Attach(c.Request.Context(), authorization.CurrentIdentity(c), assistantID, in)
	if err != nil {
		apperr.Respond(c, err, "failed to attach tool")
		return
	}
	c.JSON(http.StatusOK, gin.H{"binding": binding})
}

func (s *Service) handleUpdateBinding(c *gin.Context) {
	assistantID, ok := parseParam(c, "id", "invalid assistant id")
	if !ok {
		return
	}
	toolID, ok := parseParam(c, "tool_id", "invalid tool id")
	if !ok {
		return
	}
	var in BindingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	binding, err := s.UpdateBinding(c.Request.Context(), authorization.CurrentIdentity(c), assistantID, toolID, in)
	if err != nil {
		apperr.Respond(c, err, "failed to update assistant tool")
		return
	}
	c.JSON(http.StatusOK, gin.H{"binding": binding})
}

func (s *Service) handleDetach(c *gin.Context) {
	assistantID, ok := parseParam(c, "id", "invalid assistant id")
	if !ok {
		return
	}
	toolID, ok := parseParam(c, "tool_id", "invalid tool id")
	if !ok {
		return
	}
	if err := s.Detach(c.Request.Context(), authorization.CurrentIdentity(c), assistantID, toolID); err != nil {
		apperr.Respond(c, err, "failed to detach tool")
		return
	}
	c.Status(http.StatusNoContent)
}

func parseParam(c *gin.Context, name, message string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return 0, false
	}
	return id, true
}

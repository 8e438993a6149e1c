package knowledgebase

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the knowledge base endpoints under /api/knowledgebase.
func RegisterRoutes(router gin.IRouter, service *Service, guard *authorization.Guard) {
	group := router.Group("/api/knowledgebase", guard.RequireAuthenticated())
	group.GET("", service.handleList)
	group.POST("", service.handleCreate)
	group.POST("/upload-url", service.handleUploadURL)
	group.POST("/import", service.handleImport)
	group.POST("/search", service.handleSearch)
	group.GET("/:id", service.handleGet)
	group.PUT("/:id", service.handleUpdate)
	group.DELETE("/:id", service.handleDelete)
	group.POST("/:id/refresh", service.handleRefresh)
}

type uploadURLRequest struct {
	MunicipalityID uint64 `json:"municipality_id"`
	Filename       string `json:"filename"`
}

type searchRequest struct {
	MunicipalityID uint64 `json:"municipality_id"`
	AssistantID    uint64 `json:"assistant_id"`
	Query          string `json:"query"`
	Limit          int    `json:"limit"`
}

// handleList godoc
// @Summary 列出知识库条目
// @Tags Knowledgebase
// @Produce json
// @Param municipality_id query int true "市政 ID"
// @Param assistant_id query int false "助手 ID"
// @Param cursor query string false "分页游标"
// @Param limit query int false "每页数量"
// @Success 200 {object} map[string]interface{} "条目列表"
// @Failure 400 {object} map[string]string "请求参数错误"
// @Failure 403 {object} map[string]string "无权限"
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
	municipalityID, ok := queryID(c, "municipality_id")
	if !ok {
		return
	}
	assistantID, ok := queryID(c, "assistant_id")
	if !ok {
		return
	}

	filter := ListFilter{
		MunicipalityID: municipalityID,
		AssistantID:    assistantID,
		Status:         strings.TrimSpace(c.Query("status")),
		Source:         strings.TrimSpace(c.Query("source")),
	}
	page, err := s.List(c.Request.Context(), authorization.CurrentIdentity(c), filter, cursor, limit)
	if err != nil {
		apperr.Respond(c, err, "failed to list knowledge")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Service) handleCreate(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	item, err := s.Create(c.Request.Context(), authorization.CurrentIdentity(c), in)
	if err != nil {
		apperr.Respond(c, err, "failed to create knowledge item")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"item": item})
}

func (s *Service) handleGet(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	item, err := s.Get(c.Request.Context(), authorization.CurrentIdentity(c), id)
	if err != nil {
		apperr.Respond(c, err, "failed to load knowledge item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
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
	item, err := s.Update(c.Request.Context(), authorization.CurrentIdentity(c), id, in)
	if err != nil {
		apperr.Respond(c, err, "failed to update knowledge item")
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Service) handleDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.Delete(c.Request.Context(), authorization.CurrentIdentity(c), id); err != nil {
		apperr.Respond(c, err, "failed to delete knowledge item")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) handleRefresh(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	item, err := s.Refresh(c.Request.Context(), authorization.CurrentIdentity(c), id)
	if err != nil {
		apperr.Respond(c, err, "failed to refresh knowledge item")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"item": item})
}

// handleUploadURL godoc
// @Summary 获取知识库文件上传地址
// @Description 返回预签名 PUT 地址与 storage_id，上传完成后用 storage_id 创建条目
// @Tags Knowledgebase
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "upload_url 与 storage_id"
// @Failure 503 {object} map[string]string "未配置对象存储"
func (s *Service) handleUploadURL(c *gin.Context) {
	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MunicipalityID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "municipality_id is required"})
		return
	}
	uploadURL, storageID, err := s.UploadURL(c.Request.Context(), authorization.CurrentIdentity(c), req.MunicipalityID, req.Filename)
	if err != nil {
		apperr.Respond(c, err, "failed to create upload url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": uploadURL, "storage_id": storageID})
}

func (s *Service) handleImport(c *gin.Context) {
	municipalityID, err := strconv.ParseUint(strings.TrimSpace(c.PostForm("municipality_id")), 10, 64)
	if err != nil || municipalityID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "municipality_id is required"})
		return
	}
	var assistantID *uint64
	if raw := strings.TrimSpace(c.PostForm("assistant_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid assistant id"})
			return
		}
		assistantID = &id
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive file is required"})
		return
	}
	if header.Size > maxArchiveBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "archive is too large"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read archive"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxArchiveBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read archive"})
		return
	}

	items, err := s.Import(c.Request.Context(), authorization.CurrentIdentity(c), municipalityID, assistantID, header.Filename, data)
	if err != nil {
		apperr.Respond(c, err, "failed to import archive")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"items": items})
}

func (s *Service) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MunicipalityID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "municipality_id is required"})
		return
	}
	hits, err := s.Search(c.Request.Context(), authorization.CurrentIdentity(c), req.MunicipalityID, req.AssistantID, req.Query, req.Limit)
	if err != nil {
		apperr.Respond(c, err, "failed to search knowledge")
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge item id"})
		return 0, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (uint64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

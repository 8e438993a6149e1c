package municipalities

import (
	"net/http"
	"strconv"
	"strings"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the municipality endpoints under /api/municipalities.
func RegisterRoutes(router gin.IRouter, service *Service, guard *authorization.Guard) {
	group := router.Group("/api/municipalities")
	managers := guard.RequireManagementRole(authorization.RoleSuperAdmin, authorization.RoleModerator)

	group.GET("", service.handleList)
	group.POST("", managers, service.handleCreate)
	group.GET("/:id", service.handleGet)
	group.PUT("/:id", service.handleUpdate)
	group.DELETE("/:id", managers, service.handleDelete)
	group.POST("/:id/logo/upload-url", service.handleLogoUploadURL)
}

type deleteRequest struct {
	Confirmation string `json:"confirmation"`
}

type uploadURLRequest struct {
	Filename string `json:"filename"`
}

func (s *Service) handleList(c *gin.Context) {
	identity := authorization.CurrentIdentity(c)
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

	filter := Filter{CountryCode: c.Query("country_code"), Search: c.Query("q")}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active filter"})
			return
		}
		filter.Active = &active
	}
	if !identity.IsManager() {
		filter.OnlyIDs = identity.MunicipalityIDs()
		if filter.OnlyIDs == nil {
			filter.OnlyIDs = []uint64{}
		}
	}

	page, err := s.List(c.Request.Context(), filter, cursor, limit)
	if err != nil {
		apperr.Respond(c, err, "failed to list municipalities")
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
	municipality, err := s.Create(c.Request.Context(), in)
	if err != nil {
		apperr.Respond(c, err, "failed to create municipality")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"municipality": municipality})
}

func (s *Service) handleGet(c *gin.Context) {
	id, ok := s.authorize(c, false)
	if !ok {
		return
	}
	municipality, err := s.Get(c.Request.Context(), id)
	if err != nil {
		apperr.Respond(c, err, "failed to load municipality")
		return
	}
	c.JSON(http.StatusOK, gin.H{"municipality": municipality})
}

func (s *Service) handleUpdate(c *gin.Context) {
	id, ok := s.authorize(c, true)
	if !ok {
		return
	}
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if !authorization.CurrentIdentity(c).IsManager() && (in.Active != nil || in.Name != nil) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only management roles can rename or deactivate a municipality"})
		return
	}
	municipality, err := s.Update(c.Request.Context(), id, in)
	if err != nil {
		apperr.Respond(c, err, "failed to update municipality")
		return
	}
	c.JSON(http.StatusOK, gin.H{"municipality": municipality})
}

func (s *Service) handleDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgConfirmationMismatch})
		return
	}
	if err := s.Delete(c.Request.Context(), id, req.Confirmation); err != nil {
		apperr.Respond(c, err, "failed to delete municipality")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) handleLogoUploadURL(c *gin.Context) {
	id, ok := s.authorize(c, true)
	if !ok {
		return
	}
	var req uploadURLRequest
	_ = c.ShouldBindJSON(&req)

	uploadURL, storageID, err := s.LogoUploadURL(c.Request.Context(), id, req.Filename)
	if err != nil {
		apperr.Respond(c, err, "failed to create upload url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": uploadURL, "storage_id": storageID})
}

// authorize parses :id and checks the caller may read it, or administer it
// when admin is set.
func (s *Service) authorize(c *gin.Context, admin bool) (uint64, bool) {
	id, ok := parseID(c)
	if !ok {
		return 0, false
	}
	identity := authorization.CurrentIdentity(c)
	allowed := identity.CanAccessMunicipality(id)
	if admin {
		allowed = identity.IsManager() || identity.OrgRole(id) == authorization.OrgRoleAdmin
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "access to this municipality is not allowed"})
		return 0, false
	}
	return id, true
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid municipality id"})
		return 0, false
	}
	return id, true
}

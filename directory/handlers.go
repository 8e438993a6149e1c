package directory

import (
	"net/http"
	"strconv"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the directory endpoints under /api/directory.
func RegisterRoutes(router gin.IRouter, service *Service, guard *authorization.Guard) {
	group := router.Group("/api/directory")

	group.POST("/invitations/accept", service.handleAccept)
	group.POST("/invitations", service.handleInvite)
	group.GET("/invitations", service.handleListInvitations)
	group.POST("/invitations/:id/revoke", service.handleRevoke)

	members := group.Group("/municipalities/:municipality_id/members")
	members.GET("", service.handleListMembers)
	members.PUT("/:user_id", service.handleUpdateMember)
	members.DELETE("/:user_id", service.handleRemoveMember)

	users := group.Group("/users", guard.RequireManagementRole(authorization.RoleSuperAdmin))
	users.GET("", service.handleListUsers)
	users.PUT("/:user_id/metadata", service.handleUpdateMetadata)
	users.DELETE("/:user_id", service.handleDeleteUser)

	group.GET("/reports/accepted-invitations",
		guard.RequireManagementRole(authorization.RoleSuperAdmin, authorization.RoleModerator),
		service.handleReport,
	)
}

type inviteRequest struct {
	Email          string `json:"email"`
	MunicipalityID uint64 `json:"municipality_id"`
	Role           string `json:"role"`
}

type acceptRequest struct {
	Token       string `json:"token"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type memberRoleRequest struct {
	Role string `json:"role"`
}

type metadataRequest struct {
	ManagementRole *string `json:"management_role"`
	CountryCode    *string `json:"country_code"`
}

func writeResult(c *gin.Context, result apperr.Result, successStatus int) {
	if result.Success {
		c.JSON(successStatus, result)
		return
	}
	c.JSON(result.HTTPStatus(), result)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, apperr.Fail(apperr.Invalid(message, nil)))
}

func (s *Service) handleInvite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	result := s.InviteUser(c.Request.Context(), authorization.CurrentIdentity(c), req.Email, req.MunicipalityID, req.Role)
	writeResult(c, result, http.StatusCreated)
}

func (s *Service) handleAccept(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	writeResult(c, s.AcceptInvitation(c.Request.Context(), req.Token, req.Password, req.DisplayName), http.StatusOK)
}

func (s *Service) handleListInvitations(c *gin.Context) {
	municipalityID, ok := optionalID(c, c.Query("municipality_id"), "municipality_id")
	if !ok {
		return
	}
	result := s.ListInvitations(c.Request.Context(), authorization.CurrentIdentity(c), municipalityID, c.Query("status"))
	writeResult(c, result, http.StatusOK)
}

func (s *Service) handleRevoke(c *gin.Context) {
	id, ok := requiredID(c, "id")
	if !ok {
		return
	}
	writeResult(c, s.RevokeInvitation(c.Request.Context(), authorization.CurrentIdentity(c), id), http.StatusOK)
}

func (s *Service) handleListMembers(c *gin.Context) {
	municipalityID, ok := requiredID(c, "municipality_id")
	if !ok {
		return
	}
	writeResult(c, s.ListMembers(c.Request.Context(), authorization.CurrentIdentity(c), municipalityID), http.StatusOK)
}

func (s *Service) handleUpdateMember(c *gin.Context) {
	municipalityID, ok := requiredID(c, "municipality_id")
	if !ok {
		return
	}
	userID, ok := requiredID(c, "user_id")
	if !ok {
		return
	}
	var req memberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	result := s.UpdateMemberRole(c.Request.Context(), authorization.CurrentIdentity(c), municipalityID, userID, req.Role)
	writeResult(c, result, http.StatusOK)
}

func (s *Service) handleRemoveMember(c *gin.Context) {
	municipalityID, ok := requiredID(c, "municipality_id")
	if !ok {
		return
	}
	userID, ok := requiredID(c, "user_id")
	if !ok {
		return
	}
	writeResult(c, s.RemoveMember(c.Request.Context(), authorization.CurrentIdentity(c), municipalityID, userID), http.StatusOK)
}

func (s *Service) handleListUsers(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	result := s.ListUsers(c.Request.Context(), authorization.CurrentIdentity(c), c.Query("role"), c.Query("cursor"), limit)
	writeResult(c, result, http.StatusOK)
}

func (s *Service) handleUpdateMetadata(c *gin.Context) {
	userID, ok := requiredID(c, "user_id")
	if !ok {
		return
	}
	var req metadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	result := s.UpdateUserMetadata(c.Request.Context(), authorization.CurrentIdentity(c), userID, req.ManagementRole, req.CountryCode)
	writeResult(c, result, http.StatusOK)
}

func (s *Service) handleDeleteUser(c *gin.Context) {
	userID, ok := requiredID(c, "user_id")
	if !ok {
		return
	}
	writeResult(c, s.DeleteUser(c.Request.Context(), authorization.CurrentIdentity(c), userID), http.StatusOK)
}

func (s *Service) handleReport(c *gin.Context) {
	writeResult(c, s.AcceptedInvitationReport(c.Request.Context(), authorization.CurrentIdentity(c)), http.StatusOK)
}

func requiredID(c *gin.Context, param string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+param)
		return 0, false
	}
	return id, true
}

func optionalID(c *gin.Context, raw, name string) (uint64, bool) {
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

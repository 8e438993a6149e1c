package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"municonsole_back/apperr"
	"municonsole_back/authorization"
	"municonsole_back/pagination"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultInviteTTL = 7 * 24 * time.Hour

// MunicipalityLookup reports whether a municipality exists.
type MunicipalityLookup interface {
	Exists(ctx context.Context, id uint64) (bool, error)
}

// Service implements the user, membership and invitation actions. Every
// action returns an apperr.Result rather than an error.
type Service struct {
	db             *gorm.DB
	auth           *authorization.Module
	municipalities MunicipalityLookup
	mailer         Mailer
	baseURL        string
	inviteTTL      time.Duration
	reportWorkers  int
}

// Options configures a Service.
type Options struct {
	Mailer    Mailer
	BaseURL   string
	InviteTTL time.Duration
}

// NewService migrates the invitation table and returns a ready Service.
func NewService(db *gorm.DB, auth *authorization.Module, municipalities MunicipalityLookup, opts Options) (*Service, error) {
	if db == nil || auth == nil {
		return nil, errors.New("directory: database and authorization module are required")
	}
	if err := db.AutoMigrate(&Invitation{}); err != nil {
		return nil, fmt.Errorf("directory: migrate models: %w", err)
	}
	ttl := opts.InviteTTL
	if ttl <= 0 {
		ttl = defaultInviteTTL
	}
	return &Service{
		db:             db,
		auth:           auth,
		municipalities: municipalities,
		mailer:         opts.Mailer,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		inviteTTL:      ttl,
		reportWorkers:  8,
	}, nil
}

// InviteUser creates a pending invitation and emails the accept link when a
// mailer is configured.
func (s *Service) InviteUser(ctx context.Context, caller *authorization.Identity, email string, municipalityID uint64, role string) apperr.Result {
	email = authorization.NormalizeEmail(email)
	fields := map[string]string{}
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		fields["email"] = "A valid email address is required"
	}
	if municipalityID == 0 {
		fields["municipality_id"] = "Municipality is required"
	}
	if role == "" {
		role = authorization.OrgRoleMember
	}
	if !authorization.ValidOrgRole(role) {
		fields["role"] = "Role must be org:admin or org:member"
	}
	if len(fields) > 0 {
		return apperr.Fail(apperr.Invalid("invalid invitation", fields))
	}
	if !canAdminister(caller, municipalityID) {
		return apperr.Fail(apperr.Forbidden("only organization admins can invite users"))
	}
	if err := s.requireMunicipality(ctx, municipalityID); err != nil {
		return apperr.Fail(err)
	}

	var pending int64
	err := s.db.WithContext(ctx).Model(&Invitation{}).
		Where("email = ? AND municipality_id = ? AND status = ? AND expires_at > ?", email, municipalityID, InvitationPending, time.Now().UTC()).
		Count(&pending).Error
	if err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to check invitations", err))
	}
	if pending > 0 {
		return apperr.Fail(apperr.Conflict("a pending invitation already exists for this email"))
	}

	invitation := &Invitation{
		Token:          strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Email:          email,
		MunicipalityID: municipalityID,
		Role:           role,
		Status:         InvitationPending,
		InvitedBy:      caller.UserID,
		ExpiresAt:      time.Now().UTC().Add(s.inviteTTL),
	}
	if err := s.db.WithContext(ctx).Create(invitation).Error; err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to create invitation", err))
	}

	link := s.acceptURL(invitation.Token)
	delivered := false
	if s.mailer != nil {
		if err := s.mailer.SendInvitation(ctx, invitation, link); err != nil {
			log.Printf("directory: send invitation %d: %v", invitation.ID, err)
		} else {
			delivered = true
		}
	}

	data := map[string]any{
		"invitation": invitation,
		"emailed":    delivered,
	}
	// 邮件已送达时不把链接回传给邀请人
	if !delivered {
		data["accept_url"] = link
	}
	return apperr.OK(data)
}

// AcceptInvitation links (or creates) the invited user, grants the
// membership and returns a session token.
func (s *Service) AcceptInvitation(ctx context.Context, token, password, displayName string) apperr.Result {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Fail(apperr.Invalid("invitation token is required", map[string]string{"token": "Token is required"}))
	}

	var invitation Invitation
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&invitation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Fail(apperr.NotFound("invitation not found"))
		}
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to load invitation", err))
	}

	switch invitation.Status {
	case InvitationPending:
	case InvitationAccepted:
		return apperr.Fail(apperr.Conflict("invitation already accepted"))
	default:
		return apperr.Fail(apperr.New(apperr.CodeInvalidArgument, "invitation is no longer valid"))
	}
	if time.Now().UTC().After(invitation.ExpiresAt) {
		s.db.WithContext(ctx).Model(&invitation).Update("status", InvitationExpired)
		return apperr.Fail(apperr.New(apperr.CodeInvalidArgument, "invitation expired"))
	}

	users := s.auth.Users()
	user, err := users.FindByEmail(ctx, invitation.Email)
	switch {
	case err == nil:
		// 已有账号必须用自己的密码确认，邀请令牌本身不能代替登录
		if !users.CheckPassword(user, password) {
			return apperr.Fail(apperr.New(apperr.CodeUnauthenticated, "incorrect email or password"))
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = &authorization.User{Email: invitation.Email, DisplayName: displayName}
		if err := users.Create(ctx, user, password); err != nil {
			if errors.Is(err, authorization.ErrWeakPassword) {
				return apperr.Fail(apperr.Invalid("password too weak", map[string]string{"password": "Password must be at least 8 characters"}))
			}
			return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to create user", err))
		}
	default:
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to load user", err))
	}

	if _, err := users.UpsertMembership(ctx, user.ID, invitation.MunicipalityID, invitation.Role); err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to grant membership", err))
	}

	now := time.Now().UTC()
	err = s.db.WithContext(ctx).Model(&invitation).Updates(map[string]any{
		"status":           InvitationAccepted,
		"accepted_at":      now,
		"accepted_user_id": user.ID,
	}).Error
	if err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to update invitation", err))
	}

	identity, err := s.auth.LoadIdentity(ctx, user.ID)
	if err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to load identity", err))
	}
	sessionToken, expire, err := s.auth.IssueToken(identity)
	if err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to issue token", err))
	}

	return apperr.OK(map[string]any{
		"user":            authorization.UserPayload(user),
		"municipality_id": invitation.MunicipalityID,
		"role":            invitation.Role,
		"token":           sessionToken,
		"expire":          expire,
	})
}

// RevokeInvitation marks a pending invitation revoked.
func (s *Service) RevokeInvitation(ctx context.Context, caller *authorization.Identity, id uint64) apperr.Result {
	var invitation Invitation
	if err := s.db.WithContext(ctx).First(&invitation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Fail(apperr.NotFound("invitation not found"))
		}
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to load invitation", err))
	}
	if !canAdminister(caller, invitation.MunicipalityID) {
		return apperr.Fail(apperr.Forbidden("only organization admins can revoke invitations"))
	}
	if invitation.Status != InvitationPending {
		return apperr.Fail(apperr.Conflict("only pending invitations can be revoked"))
	}
	invitation.Status = InvitationRevoked
	if err := s.db.WithContext(ctx).Save(&invitation).Error; err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to revoke invitation", err))
	}
	return apperr.OK(invitation)
}

// ListInvitations returns the invitations of a municipality, newest first.
// Pending invitations past their expiry are reported as expired.
func (s *Service) ListInvitations(ctx context.Context, caller *authorization.Identity, municipalityID uint64, status string) apperr.Result {
	if municipalityID == 0 && !caller.IsManager() {
		return apperr.Fail(apperr.Invalid("municipality_id is required", nil))
	}
	if municipalityID != 0 && !canAdminister(caller, municipalityID) {
		return apperr.Fail(apperr.Forbidden("only organization admins can list invitations"))
	}

	err := s.db.WithContext(ctx).Model(&Invitation{}).
		Where("status = ? AND expires_at <= ?", InvitationPending, time.Now().UTC()).
		Update("status", InvitationExpired).Error
	if err != nil {
		log.Printf("directory: expire invitations: %v", err)
	}

	query := s.db.WithContext(ctx).Model(&Invitation{})
	if municipalityID != 0 {
		query = query.Where("municipality_id = ?", municipalityID)
	}
	if status = strings.TrimSpace(status); status != "" {
		query = query.Where("status = ?", status)
	}
	var invitations []Invitation
	if err := query.Order("created_at DESC").Order("id DESC").Find(&invitations).Error; err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to list invitations", err))
	}
	if invitations == nil {
		invitations = []Invitation{}
	}
	return apperr.OK(invitations)
}

// ListMembers returns the users of a municipality with their roles.
func (s *Service) ListMembers(ctx context.Context, caller *authorization.Identity, municipalityID uint64) apperr.Result {
	if !caller.CanAccessMunicipality(municipalityID) {
		return apperr.Fail(apperr.Forbidden("not a member of this municipality"))
	}
	members, err := s.auth.Users().Members(ctx, municipalityID)
	if err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to list members", err))
	}
	return apperr.OK(members)
}

// UpdateMemberRole changes a member's organization role.
func (s *Service) UpdateMemberRole(ctx context.Context, caller *authorization.Identity, municipalityID, userID uint64, role string) apperr.Result {
	if !canAdminister(caller, municipalityID) {
		return apperr.Fail(apperr.Forbidden("only organization admins can change roles"))
	}
	err := s.auth.Users().UpdateMembershipRole(ctx, userID, municipalityID, role)
	switch {
	case err == nil:
		return apperr.OK(map[string]any{"user_id": userID, "municipality_id": municipalityID, "role": role})
	case errors.Is(err, authorization.ErrInvalidOrgRole):
		return apperr.Fail(apperr.Invalid("invalid role", map[string]string{"role": "Role must be org:admin or org:member"}))
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.Fail(apperr.NotFound("membership not found"))
	default:
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to update role", err))
	}
}

// RemoveMember drops a user from a municipality.
func (s *Service) RemoveMember(ctx context.Context, caller *authorization.Identity, municipalityID, userID uint64) apperr.Result {
	if !canAdminister(caller, municipalityID) {
		return apperr.Fail(apperr.Forbidden("only organization admins can remove members"))
	}
	err := s.auth.Users().DeleteMembership(ctx, userID, municipalityID)
	switch {
	case err == nil:
		return apperr.OK(map[string]any{"user_id": userID, "municipality_id": municipalityID})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.Fail(apperr.NotFound("membership not found"))
	default:
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to remove member", err))
	}
}

// UpdateUserMetadata sets a user's management role and country code.
func (s *Service) UpdateUserMetadata(ctx context.Context, caller *authorization.Identity, userID uint64, role, countryCode *string) apperr.Result {
	if !caller.IsSuperAdmin() {
		return apperr.Fail(apperr.Forbidden("super_admin role required"))
	}
	if caller.UserID == userID && role != nil && *role != authorization.RoleSuperAdmin {
		return apperr.Fail(apperr.Invalid("you cannot remove your own super_admin role", nil))
	}
	user, err := s.auth.Users().UpdateMetadata(ctx, userID, role, countryCode)
	switch {
	case err == nil:
		return apperr.OK(authorization.UserPayload(user))
	case errors.Is(err, authorization.ErrInvalidRole):
		return apperr.Fail(apperr.Invalid("invalid management role", map[string]string{"management_role": "Role must be super_admin, moderator or empty"}))
	case errors.Is(err, authorization.ErrInvalidCountryCode):
		return apperr.Fail(apperr.Invalid("invalid country code", map[string]string{"country_code": "Country code must be two letters"}))
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.Fail(apperr.NotFound("user not found"))
	default:
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to update user", err))
	}
}

// ListUsers pages through all users.
func (s *Service) ListUsers(ctx context.Context, caller *authorization.Identity, role, rawCursor string, limit int) apperr.Result {
	if !caller.IsSuperAdmin() {
		return apperr.Fail(apperr.Forbidden("super_admin role required"))
	}
	cursor, err := pagination.Decode(rawCursor)
	if err != nil {
		return apperr.Fail(apperr.Invalid("invalid cursor", nil))
	}
	page, err := s.auth.Users().List(ctx, role, cursor, limit)
	if err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to list users", err))
	}
	items := make([]map[string]any, 0, len(page.Items))
	for idx := range page.Items {
		items = append(items, authorization.UserPayload(&page.Items[idx]))
	}
	return apperr.OK(pagination.Page[map[string]any]{Items: items, NextCursor: page.NextCursor, HasMore: page.HasMore})
}

// DeleteUser removes a user account.
func (s *Service) DeleteUser(ctx context.Context, caller *authorization.Identity, userID uint64) apperr.Result {
	if !caller.IsSuperAdmin() {
		return apperr.Fail(apperr.Forbidden("super_admin role required"))
	}
	if caller.UserID == userID {
		return apperr.Fail(apperr.Invalid("you cannot delete your own account", nil))
	}
	err := s.auth.Users().Delete(ctx, userID)
	switch {
	case err == nil:
		return apperr.OK(map[string]any{"user_id": userID})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.Fail(apperr.NotFound("user not found"))
	default:
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to delete user", err))
	}
}

// DeleteByMunicipality removes the invitations and memberships of a deleted
// municipality.
func (s *Service) DeleteByMunicipality(ctx context.Context, municipalityID uint64) error {
	if err := s.db.WithContext(ctx).Where("municipality_id = ?", municipalityID).Delete(&Invitation{}).Error; err != nil {
		return fmt.Errorf("directory: delete invitations: %w", err)
	}
	return s.auth.Users().DeleteMunicipalityMemberships(ctx, municipalityID)
}

func (s *Service) requireMunicipality(ctx context.Context, id uint64) error {
	if s.municipalities == nil {
		return nil
	}
	exists, err := s.municipalities.Exists(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "failed to load municipality", err)
	}
	if !exists {
		return apperr.NotFound("municipality not found")
	}
	return nil
}

func (s *Service) acceptURL(token string) string {
	return fmt.Sprintf("%s/accept-invitation?token=%s", s.baseURL, token)
}

func canAdminister(caller *authorization.Identity, municipalityID uint64) bool {
	if caller == nil {
		return false
	}
	return caller.IsManager() || caller.OrgRole(municipalityID) == authorization.OrgRoleAdmin
}

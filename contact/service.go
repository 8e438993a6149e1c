package contact

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"municonsole_back/apperr"
	"municonsole_back/assistants"
	"municonsole_back/authorization"
	"municonsole_back/chat"
	"municonsole_back/pagination"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultSessionTTL = 24 * time.Hour

type AssistantSource interface {
	Get(ctx context.Context, id uint64) (*assistants.Assistant, error)
}

// Captcha guards anonymous feedback.
type Captcha interface {
	Verify(id, answer string) bool
	Handler() gin.HandlerFunc
}

type Options struct {
	Secret     string
	SessionTTL time.Duration
	Assistants AssistantSource
	Captcha    Captcha
}

// Service manages widget sessions and feedback tickets.
type Service struct {
	db         *gorm.DB
	assistants AssistantSource
	captcha    Captcha
	signer     *tokenSigner
	ttl        time.Duration
	now        func() time.Time
}

func NewService(db *gorm.DB, opts Options) (*Service, error) {
	if db == nil {
		return nil, errors.New("contact: database is required")
	}
	if opts.Assistants == nil {
		return nil, errors.New("contact: assistant source is required")
	}
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, errors.New("contact: session secret is required")
	}
	if err := db.AutoMigrate(&Session{}, &Feedback{}); err != nil {
		return nil, fmt.Errorf("contact: migrate models: %w", err)
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	s := &Service{
		db:         db,
		assistants: opts.Assistants,
		captcha:    opts.Captcha,
		ttl:        opts.SessionTTL,
		now:        time.Now,
	}
	s.signer = &tokenSigner{secret: []byte(opts.Secret), now: func() time.Time { return s.now() }}
	return s, nil
}

// CreateSession opens a widget session for a public or custom assistant.
func (s *Service) CreateSession(ctx context.Context, in SessionInput) (*SessionToken, error) {
	fields := map[string]string{}
	if in.AssistantID == 0 {
		fields["assistant_id"] = "Assistant is required"
	}
	email := strings.TrimSpace(in.VisitorEmail)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			fields["visitor_email"] = "Please enter a valid email address"
		}
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid("invalid session", fields)
	}

	assistant, err := s.assistants.Get(ctx, in.AssistantID)
	if err != nil {
		return nil, err
	}
	if assistant.Type == assistants.TypePrivate {
		return nil, apperr.Forbidden("this assistant is not available in the widget")
	}

	session := &Session{
		ID:             uuid.NewString(),
		AssistantID:    assistant.ID,
		MunicipalityID: assistant.MunicipalityID,
		VisitorName:    strings.TrimSpace(in.VisitorName),
		VisitorEmail:   email,
		Metadata:       in.Metadata,
		ExpiresAt:      s.now().Add(s.ttl).UTC(),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("contact: create session: %w", err)
	}
	return s.issue(session)
}

func (s *Service) issue(session *Session) (*SessionToken, error) {
	token, err := s.signer.sign(session.ID, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("contact: sign session token: %w", err)
	}
	return &SessionToken{Session: session, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

// Session verifies token and loads its session. Expired tokens and
// sessions are rejected with "session expired".
func (s *Service) Session(ctx context.Context, token string) (*Session, error) {
	sessionID, err := s.signer.verify(strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, apperr.New(apperr.CodeUnauthenticated, "session expired")
		}
		return nil, apperr.New(apperr.CodeUnauthenticated, "invalid session token")
	}
	var session Session
	if err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeUnauthenticated, "invalid session token")
		}
		return nil, fmt.Errorf("contact: load session: %w", err)
	}
	if !session.ExpiresAt.After(s.now()) {
		return nil, apperr.New(apperr.CodeUnauthenticated, "session expired")
	}
	return &session, nil
}

// Refresh extends a live session by the session TTL and signs a new token.
func (s *Service) Refresh(ctx context.Context, token string) (*SessionToken, error) {
	session, err := s.Session(ctx, token)
	if err != nil {
		return nil, err
	}
	session.ExpiresAt = s.now().Add(s.ttl).UTC()
	if err := s.db.WithContext(ctx).Model(session).Update("expires_at", session.ExpiresAt).Error; err != nil {
		return nil, fmt.Errorf("contact: refresh session: %w", err)
	}
	return s.issue(session)
}

// ResolveVisitor lets chat authenticate widget requests.
func (s *Service) ResolveVisitor(ctx context.Context, token string) (*chat.Visitor, error) {
	session, err := s.Session(ctx, token)
	if err != nil {
		return nil, err
	}
	return &chat.Visitor{
		SessionID:      session.ID,
		AssistantID:    session.AssistantID,
		MunicipalityID: session.MunicipalityID,
	}, nil
}

func oneOf(value string, allowed []string) bool {
	return slices.Contains(allowed, value)
}

func normalize(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

// SubmitFeedback files a public ticket. With a session token the ticket is
// attached to the session's municipality; without one the captcha must pass.
func (s *Service) SubmitFeedback(ctx context.Context, sessionToken string, in FeedbackInput) (*Feedback, error) {
	feedback := &Feedback{MunicipalityID: in.MunicipalityID}
	if strings.TrimSpace(sessionToken) != "" {
		session, err := s.Session(ctx, sessionToken)
		if err != nil {
			return nil, err
		}
		sessionID := session.ID
		feedback.ContactSessionID = &sessionID
		feedback.MunicipalityID = session.MunicipalityID
		if strings.TrimSpace(in.Email) == "" {
			in.Email = session.VisitorEmail
		}
	} else if s.captcha == nil || !s.captcha.Verify(in.CaptchaID, in.CaptchaAnswer) {
		return nil, apperr.Invalid("invalid captcha", map[string]string{"captcha_answer": "Please solve the captcha"})
	}
	return s.createFeedback(ctx, feedback, in)
}

// FileFeedback files a ticket on behalf of a signed-in staff member.
func (s *Service) FileFeedback(ctx context.Context, caller *authorization.Identity, in FeedbackInput) (*Feedback, error) {
	if in.MunicipalityID != nil && !caller.CanAccessMunicipality(*in.MunicipalityID) {
		return nil, apperr.Forbidden("access to this municipality is not allowed")
	}
	userID := caller.UserID
	feedback := &Feedback{MunicipalityID: in.MunicipalityID, UserID: &userID}
	if strings.TrimSpace(in.Email) == "" {
		in.Email = caller.Email
	}
	return s.createFeedback(ctx, feedback, in)
}

func (s *Service) createFeedback(ctx context.Context, feedback *Feedback, in FeedbackInput) (*Feedback, error) {
	feedback.Subject = strings.TrimSpace(in.Subject)
	feedback.Message = strings.TrimSpace(in.Message)
	feedback.Email = strings.TrimSpace(in.Email)
	feedback.Type = normalize(in.Type, TypeOther)
	feedback.Priority = normalize(in.Priority, PriorityMedium)
	feedback.Status = StatusOpen

	fields := map[string]string{}
	if feedback.Subject == "" {
		fields["subject"] = "Subject is required"
	}
	if feedback.Message == "" {
		fields["message"] = "Message is required"
	}
	if !oneOf(feedback.Type, feedbackTypes) {
		fields["type"] = "Type must be one of " + strings.Join(feedbackTypes, ", ")
	}
	if !oneOf(feedback.Priority, feedbackPriorities) {
		fields["priority"] = "Priority must be one of " + strings.Join(feedbackPriorities, ", ")
	}
	if feedback.Email != "" {
		if _, err := mail.ParseAddress(feedback.Email); err != nil {
			fields["email"] = "Please enter a valid email address"
		}
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid("invalid feedback", fields)
	}

	if err := s.db.WithContext(ctx).Create(feedback).Error; err != nil {
		return nil, fmt.Errorf("contact: create feedback: %w", err)
	}
	return feedback, nil
}

// ListFeedback pages through tickets, newest first. Managers see every
// ticket; everyone else sees the tickets of their municipalities.
func (s *Service) ListFeedback(ctx context.Context, caller *authorization.Identity, filter FeedbackFilter, cursor *pagination.Cursor, limit int) (pagination.Page[Feedback], error) {
	query := s.db.WithContext(ctx).Model(&Feedback{})
	switch {
	case filter.MunicipalityID != 0:
		if !caller.CanAccessMunicipality(filter.MunicipalityID) {
			return pagination.Page[Feedback]{}, apperr.Forbidden("access to this municipality is not allowed")
		}
		query = query.Where("municipality_id = ?", filter.MunicipalityID)
	case !caller.IsManager():
		ids := caller.MunicipalityIDs()
		if len(ids) == 0 {
			return pagination.Page[Feedback]{Items: []Feedback{}}, nil
		}
		query = query.Where("municipality_id IN ?", ids)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}

	var rows []Feedback
	if err := pagination.Apply(query, "", cursor, limit).Find(&rows).Error; err != nil {
		return pagination.Page[Feedback]{}, fmt.Errorf("contact: list feedback: %w", err)
	}
	return pagination.Build(rows, limit, func(row Feedback) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	}), nil
}

func (s *Service) manageable(ctx context.Context, caller *authorization.Identity, id uint64) (*Feedback, error) {
	var feedback Feedback
	if err := s.db.WithContext(ctx).First(&feedback, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("feedback not found")
		}
		return nil, fmt.Errorf("contact: load feedback: %w", err)
	}
	if caller.IsManager() {
		return &feedback, nil
	}
	if feedback.MunicipalityID == nil || !caller.CanAccessMunicipality(*feedback.MunicipalityID) {
		return nil, apperr.NotFound("feedback not found")
	}
	if caller.OrgRole(*feedback.MunicipalityID) != authorization.OrgRoleAdmin {
		return nil, apperr.Forbidden("only organization admins can change feedback")
	}
	return &feedback, nil
}

// UpdateFeedback changes the status, priority or type of a ticket.
func (s *Service) UpdateFeedback(ctx context.Context, caller *authorization.Identity, id uint64, in FeedbackUpdate) (*Feedback, error) {
	feedback, err := s.manageable(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	fields := map[string]string{}
	if in.Status != nil {
		feedback.Status = normalize(*in.Status, "")
		if !oneOf(feedback.Status, feedbackStatuses) {
			fields["status"] = "Status must be one of " + strings.Join(feedbackStatuses, ", ")
		}
	}
	if in.Priority != nil {
		feedback.Priority = normalize(*in.Priority, "")
		if !oneOf(feedback.Priority, feedbackPriorities) {
			fields["priority"] = "Priority must be one of " + strings.Join(feedbackPriorities, ", ")
		}
	}
	if in.Type != nil {
		feedback.Type = normalize(*in.Type, "")
		if !oneOf(feedback.Type, feedbackTypes) {
			fields["type"] = "Type must be one of " + strings.Join(feedbackTypes, ", ")
		}
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid("invalid feedback", fields)
	}
	if err := s.db.WithContext(ctx).Save(feedback).Error; err != nil {
		return nil, fmt.Errorf("contact: update feedback: %w", err)
	}
	return feedback, nil
}

// DeleteFeedback removes a ticket.
func (s *Service) DeleteFeedback(ctx context.Context, caller *authorization.Identity, id uint64) error {
	if _, err := s.manageable(ctx, caller, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&Feedback{}, id).Error
}

// DeleteByMunicipality removes the sessions and tickets of a municipality.
func (s *Service) DeleteByMunicipality(ctx context.Context, municipalityID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("municipality_id = ?", municipalityID).Delete(&Feedback{}).Error; err != nil {
			return err
		}
		return tx.Where("municipality_id = ?", municipalityID).Delete(&Session{}).Error
	})
}

// PurgeExpired deletes sessions that expired before cutoff.
func (s *Service) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", cutoff).Delete(&Session{})
	return result.RowsAffected, result.Error
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"municonsole_back/apperr"
	"municonsole_back/assistants"
	"municonsole_back/authorization"
	"municonsole_back/pagination"
	"municonsole_back/tools"
	"municonsole_back/vectorstore"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultHistoryLimit = 12
	retrievalLimit      = 4
	maxTitleRunes       = 60
)

// ErrGenerationDisabled is reported when no chat model is configured.
var ErrGenerationDisabled = errors.New("chat: generation is not configured")

// Visitor is an anonymous widget participant identified by a contact session.
type Visitor struct {
	SessionID      string
	AssistantID    uint64
	MunicipalityID *uint64
}

// VisitorResolver turns a widget session token into a Visitor.
type VisitorResolver interface {
	ResolveVisitor(ctx context.Context, token string) (*Visitor, error)
}

// Participant is either a signed-in staff member or a widget visitor.
type Participant struct {
	Staff   *authorization.Identity
	Visitor *Visitor
}

type AssistantSource interface {
	Get(ctx context.Context, id uint64) (*assistants.Assistant, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, municipalityID, assistantID uint64, query string, limit int) ([]vectorstore.Hit, error)
}

type ToolSource interface {
	EnabledBindings(ctx context.Context, assistantID uint64, onlyEnabled bool) ([]tools.AssistantTool, error)
}

// Options wires the collaborators of a Service. Only Assistants is required.
type Options struct {
	Assistants   AssistantSource
	Knowledge    Retriever
	Tools        ToolSource
	Generator    Generator
	Redis        *redis.Client
	Broadcaster  *Broadcaster
	HistoryLimit int
}

// Service stores threads and messages and generates assistant replies.
type Service struct {
	db           *gorm.DB
	assistants   AssistantSource
	knowledge    Retriever
	tools        ToolSource
	generator    Generator
	cache        *recentCache
	hub          *Broadcaster
	historyLimit int
}

func NewService(db *gorm.DB, opts Options) (*Service, error) {
	if db == nil {
		return nil, errors.New("chat: database is required")
	}
	if opts.Assistants == nil {
		return nil, errors.New("chat: assistant source is required")
	}
	if err := db.AutoMigrate(&Thread{}, &Message{}); err != nil {
		return nil, fmt.Errorf("chat: migrate models: %w", err)
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = NewBroadcaster()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	return &Service{
		db:           db,
		assistants:   opts.Assistants,
		knowledge:    opts.Knowledge,
		tools:        opts.Tools,
		generator:    opts.Generator,
		cache:        newRecentCache(opts.Redis),
		hub:          opts.Broadcaster,
		historyLimit: opts.HistoryLimit,
	}, nil
}

// Broadcaster exposes the live feed of appended messages.
func (s *Service) Broadcaster() *Broadcaster {
	return s.hub
}

// CreateThread opens a thread with an assistant. Staff may pick any
// assistant they can see; visitors talk to the assistant of their session.
func (s *Service) CreateThread(ctx context.Context, p Participant, in ThreadInput) (*Thread, error) {
	assistantID := in.AssistantID
	if p.Visitor != nil {
		if assistantID != 0 && assistantID != p.Visitor.AssistantID {
			return nil, apperr.Forbidden("this session cannot talk to that assistant")
		}
		assistantID = p.Visitor.AssistantID
	}
	if assistantID == 0 {
		return nil, apperr.Invalid("assistant is required", map[string]string{"assistant_id": "Assistant is required"})
	}

	assistant, err := s.assistants.Get(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	thread := &Thread{
		ID:             uuid.NewString(),
		AssistantID:    assistant.ID,
		MunicipalityID: assistant.MunicipalityID,
		Title:          strings.TrimSpace(in.Title),
		Status:         StatusActive,
		LastMessageAt:  time.Now().UTC(),
	}
	switch {
	case p.Visitor != nil:
		sessionID := p.Visitor.SessionID
		thread.ContactSessionID = &sessionID
		if thread.MunicipalityID == nil {
			thread.MunicipalityID = p.Visitor.MunicipalityID
		}
	case p.Staff != nil:
		if !assistants.Visible(p.Staff, assistant) {
			return nil, apperr.NotFound("assistant not found")
		}
		userID := p.Staff.UserID
		thread.UserID = &userID
	default:
		return nil, apperr.New(apperr.CodeUnauthenticated, "authentication required")
	}

	if err := s.db.WithContext(ctx).Create(thread).Error; err != nil {
		return nil, fmt.Errorf("chat: create thread: %w", err)
	}
	if opening := strings.TrimSpace(assistant.OpeningLine); opening != "" {
		msg := &Message{Role: RoleAssistant, Content: opening, ContentHTML: RenderMarkdown(opening)}
		if err := s.append(ctx, thread, msg); err != nil {
			return nil, err
		}
	}
	return thread, nil
}

func canAccess(p Participant, thread *Thread) bool {
	if p.Visitor != nil {
		return thread.ContactSessionID != nil && *thread.ContactSessionID == p.Visitor.SessionID
	}
	caller := p.Staff
	if caller == nil {
		return false
	}
	if thread.UserID != nil && *thread.UserID == caller.UserID {
		return true
	}
	if caller.IsManager() {
		return true
	}
	return thread.MunicipalityID != nil && caller.OrgRole(*thread.MunicipalityID) == authorization.OrgRoleAdmin
}

// Thread loads a thread the participant may read.
func (s *Service) Thread(ctx context.Context, p Participant, id string) (*Thread, error) {
	var thread Thread
	if err := s.db.WithContext(ctx).First(&thread, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("thread not found")
		}
		return nil, fmt.Errorf("chat: load thread: %w", err)
	}
	if !canAccess(p, &thread) {
		return nil, apperr.NotFound("thread not found")
	}
	return &thread, nil
}

// Threads lists the participant's own threads, most recently active first.
func (s *Service) Threads(ctx context.Context, p Participant, limit int) ([]Thread, error) {
	query := s.db.WithContext(ctx).Model(&Thread{})
	switch {
	case p.Visitor != nil:
		query = query.Where("contact_session_id = ?", p.Visitor.SessionID)
	case p.Staff != nil:
		query = query.Where("user_id = ?", p.Staff.UserID)
	default:
		return nil, apperr.New(apperr.CodeUnauthenticated, "authentication required")
	}
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	var threads []Thread
	if err := query.Order("last_message_at DESC").Limit(limit).Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("chat: list threads: %w", err)
	}
	return threads, nil
}

// Messages pages through a thread, newest first.
func (s *Service) Messages(ctx context.Context, p Participant, threadID string, cursor *pagination.Cursor, limit int) (pagination.Page[Message], error) {
	if _, err := s.Thread(ctx, p, threadID); err != nil {
		return pagination.Page[Message]{}, err
	}
	var rows []Message
	query := s.db.WithContext(ctx).Model(&Message{}).Where("thread_id = ?", threadID)
	if err := pagination.Apply(query, "chat_messages", cursor, limit).Find(&rows).Error; err != nil {
		return pagination.Page[Message]{}, fmt.Errorf("chat: list messages: %w", err)
	}
	return pagination.Build(rows, limit, func(msg Message) pagination.Cursor {
		return pagination.Cursor{CreatedAt: msg.CreatedAt, ID: msg.ID}
	}), nil
}

// Since returns the messages of a thread after seq, oldest first.
func (s *Service) Since(ctx context.Context, threadID string, seq int) ([]Message, error) {
	var rows []Message
	if err := s.db.WithContext(ctx).Where("thread_id = ? AND seq > ?", threadID, seq).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("chat: load messages: %w", err)
	}
	return rows, nil
}

// Send appends a user message and generates the reply. The reply is
// streamed through handler when one is given. A failed generation leaves
// the user message stored and is reported in SendResult.AssistantError.
func (s *Service) Send(ctx context.Context, p Participant, threadID string, in MessageInput, handler func(Delta) error) (*SendResult, error) {
	thread, err := s.Thread(ctx, p, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Status == StatusClosed {
		return nil, apperr.Conflict("thread is closed")
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, apperr.Invalid("message is required", map[string]string{"content": "Message is required"})
	}

	userMsg := &Message{Role: RoleUser, Content: content, Attachments: in.Attachments}
	if err := s.append(ctx, thread, userMsg); err != nil {
		return nil, err
	}
	if thread.Title == "" {
		thread.Title = titleFrom(content)
		if err := s.db.WithContext(ctx).Model(thread).Update("title", thread.Title).Error; err != nil {
			log.Printf("chat: set title of thread %s: %v", thread.ID, err)
		}
	}

	result := &SendResult{ThreadID: thread.ID, UserMessage: *userMsg}
	reply, err := s.reply(ctx, thread, content, handler)
	if err != nil {
		log.Printf("chat: generate reply for thread %s: %v", thread.ID, err)
		result.AssistantError = "failed to generate a reply"
		if errors.Is(err, ErrGenerationDisabled) {
			result.AssistantError = "chat model is not configured"
		}
		return result, nil
	}
	result.AssistantMessage = reply
	return result, nil
}

func (s *Service) reply(ctx context.Context, thread *Thread, query string, handler func(Delta) error) (*Message, error) {
	if s.generator == nil {
		return nil, ErrGenerationDisabled
	}
	assistant, err := s.assistants.Get(ctx, thread.AssistantID)
	if err != nil {
		return nil, err
	}
	turns, err := s.prompt(ctx, thread, assistant, query)
	if err != nil {
		return nil, err
	}
	params := assistants.Parameters(assistant)
	req := Request{Model: assistant.Model, Messages: turns, Temperature: params.Temperature, MaxTokens: params.MaxTokens}

	start := time.Now()
	var result Result
	if handler != nil {
		result, err = s.generator.ChatStream(ctx, req, handler)
	} else {
		result, err = s.generator.Chat(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Content) == "" {
		return nil, errors.New("chat: empty reply")
	}

	latency := int(time.Since(start).Milliseconds())
	msg := &Message{
		Role:        RoleAssistant,
		Content:     result.Content,
		ContentHTML: RenderMarkdown(result.Content),
		LatencyMs:   &latency,
	}
	if result.Usage != nil {
		msg.TokenInput = &result.Usage.PromptTokens
		msg.TokenOutput = &result.Usage.CompletionTokens
	}
	if err := s.append(ctx, thread, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// append stores msg with the next sequence number of thread and publishes it.
func (s *Service) append(ctx context.Context, thread *Thread, msg *Message) error {
	msg.ThreadID = thread.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住线程行，串行化同一线程的追加
		var locked Thread
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", thread.ID).Take(&locked).Error; err != nil {
			return err
		}
		var last int
		if err := tx.Model(&Message{}).Where("thread_id = ?", thread.ID).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err != nil {
			return err
		}
		msg.Seq = last + 1
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&Thread{}).Where("id = ?", thread.ID).Update("last_message_at", msg.CreatedAt).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperr.Conflict("another message was appended concurrently")
		}
		return fmt.Errorf("chat: append message: %w", err)
	}
	thread.LastMessageAt = msg.CreatedAt
	s.cache.invalidate(ctx, thread.ID)
	s.hub.Publish(thread.ID, *msg)
	return nil
}

// history returns the most recent messages of a thread, oldest first.
func (s *Service) history(ctx context.Context, threadID string) ([]Message, error) {
	if cached, err := s.cache.get(ctx, threadID); err == nil {
		return cached, nil
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("chat: read recent messages cache: %v", err)
	}

	var rows []Message
	if err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Order("seq DESC").Limit(s.historyLimit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("chat: load history: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	s.cache.store(ctx, threadID, rows)
	return rows, nil
}

// CloseByAssistant closes the threads of a deleted assistant.
func (s *Service) CloseByAssistant(ctx context.Context, assistantID uint64) error {
	return s.db.WithContext(ctx).Model(&Thread{}).Where("assistant_id = ?", assistantID).Update("status", StatusClosed).Error
}

// DeleteByMunicipality removes the threads and messages of a municipality.
func (s *Service) DeleteByMunicipality(ctx context.Context, municipalityID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		threads := tx.Model(&Thread{}).Select("id").Where("municipality_id = ?", municipalityID)
		if err := tx.Where("thread_id IN (?)", threads).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("municipality_id = ?", municipalityID).Delete(&Thread{}).Error
	})
}

func titleFrom(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= maxTitleRunes {
		return content
	}
	runes := []rune(content)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
}

package authorization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"municonsole_back/config"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const defaultTimeout = time.Hour

var ErrAccountDisabled = errors.New("authorization: account disabled")

// Module wires together the JWT middleware and backing services.
type Module struct {
	users         *UserStore
	jwtMiddleware *jwt.GinJWTMiddleware
	captcha       *CaptchaStore
}

// New builds the module without touching any router.
func New(db *gorm.DB, cfg config.AuthConfig) (*Module, error) {
	if db == nil {
		return nil, errors.New("authorization: database is required")
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}

	module := &Module{users: NewUserStore(db)}
	if cfg.CaptchaEnabled {
		module.captcha = NewCaptchaStore(3 * time.Minute)
	}

	middleware, err := module.buildJWTMiddleware(cfg)
	if err != nil {
		return nil, err
	}
	module.jwtMiddleware = middleware
	return module, nil
}

// RegisterRoutes installs route protection on the whole engine and mounts
// the authentication endpoints under /auth. It must run before any other
// module registers routes so that protection applies to them too.
func RegisterRoutes(router *gin.Engine, db *gorm.DB, cfg config.AuthConfig) (*Module, error) {
	module, err := New(db, cfg)
	if err != nil {
		return nil, err
	}

	router.Use(module.ProtectRoutes())

	authGroup := router.Group("/auth")
	authGroup.GET("/captcha", module.captcha.Handler())
	authGroup.POST("/login", module.handleLogin)
	authGroup.POST("/refresh", module.handleRefresh)

	secured := authGroup.Group("")
	secured.Use(module.Guard().RequireAuthenticated())
	secured.GET("/profile", module.handleProfile)
	secured.PUT("/profile", module.handleUpdateProfile)
	secured.GET("/navigation", module.handleNavigation)

	return module, nil
}

// Users exposes the user store to the directory module.
func (m *Module) Users() *UserStore {
	if m == nil {
		return nil
	}
	return m.users
}

// Captcha returns the captcha store, nil when captchas are disabled.
func (m *Module) Captcha() *CaptchaStore {
	if m == nil {
		return nil
	}
	return m.captcha
}

// LoadIdentity builds an Identity for userID from the database.
func (m *Module) LoadIdentity(ctx context.Context, userID uint64) (*Identity, error) {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.identityFor(ctx, user)
}

// IssueToken signs a token for identity.
func (m *Module) IssueToken(identity *Identity) (string, time.Time, error) {
	if m == nil || m.jwtMiddleware == nil {
		return "", time.Time{}, errors.New("authorization: module not initialized")
	}
	return m.jwtMiddleware.TokenGenerator(identity)
}

func (m *Module) identityFor(ctx context.Context, user *User) (*Identity, error) {
	orgRoles, err := m.users.OrgRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:         user.ID,
		Email:          user.Email,
		ManagementRole: user.ManagementRole,
		CountryCode:    user.CountryCode,
		OrgRoles:       orgRoles,
	}, nil
}

func (m *Module) buildJWTMiddleware(cfg config.AuthConfig) (*jwt.GinJWTMiddleware, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return nil, errors.New("authorization: JWT_SECRET environment variable is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRefresh := cfg.MaxRefresh
	if maxRefresh <= 0 {
		maxRefresh = 24 * time.Hour
	}

	return jwt.New(&jwt.GinJWTMiddleware{
		Realm:       "municonsole",
		Key:         []byte(secret),
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: identityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if identity, ok := data.(*Identity); ok {
				return identity.Claims()
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c *gin.Context) interface{} {
			return IdentityFromClaims(jwt.ExtractClaims(c))
		},
		Authenticator: func(c *gin.Context) (interface{}, error) {
			var req LoginRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			identity, err := m.Authenticate(c.Request.Context(), req.Email, req.Password)
			if err != nil {
				return nil, err
			}
			c.Set(identityContextKey, identity)
			return identity, nil
		},
		Authorizator: func(data interface{}, c *gin.Context) bool {
			identity, ok := data.(*Identity)
			return ok && identity != nil
		},
		Unauthorized: func(c *gin.Context, code int, message string) {
			c.JSON(code, gin.H{"error": message})
		},
		LoginResponse: func(c *gin.Context, code int, token string, expire time.Time) {
			response := gin.H{"token": token, "expire": expire}
			if value, ok := c.Get(identityContextKey); ok {
				if identity, ok := value.(*Identity); ok && identity != nil {
					if payload, err := m.profilePayload(c.Request.Context(), identity); err == nil {
						response["user"] = payload
					}
				}
			}
			c.JSON(code, response)
		},
		TokenLookup:   "header: Authorization, query: token, cookie: jwt",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
	})
}

// Authenticate validates credentials and returns the caller's identity.
func (m *Module) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(password) == "" {
		return nil, jwt.ErrMissingLoginValues
	}

	user, err := m.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, jwt.ErrFailedAuthentication
		}
		return nil, fmt.Errorf("authorization: authenticate user: %w", err)
	}
	if !m.users.CheckPassword(user, password) {
		return nil, jwt.ErrFailedAuthentication
	}
	if user.Status == UserStatusDisabled {
		return nil, ErrAccountDisabled
	}

	identity, err := m.identityFor(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := m.users.TouchLogin(ctx, user.ID); err != nil {
		log.Printf("authorization: record login for user %d: %v", user.ID, err)
	}
	return identity, nil
}

// LoginRequest represents the expected payload for the login endpoint.
type LoginRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

// UpdateProfileRequest captures profile update fields.
type UpdateProfileRequest struct {
	DisplayName     *string `json:"display_name"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     *string `json:"new_password"`
}

func (m *Module) handleLogin(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	var req LoginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if m.captcha != nil && !m.captcha.Verify(req.CaptchaID, req.CaptchaAnswer) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captcha"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	m.jwtMiddleware.LoginHandler(c)
}

// handleRefresh 重新签发令牌，并从数据库刷新角色声明。
func (m *Module) handleRefresh(c *gin.Context) {
	claims, err := m.jwtMiddleware.CheckIfTokenExpire(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token cannot be refreshed"})
		return
	}
	userID := extractUserID(jwt.MapClaims(claims))
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx := c.Request.Context()
	identity, err := m.LoadIdentity(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	token, expire, err := m.IssueToken(identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	response := gin.H{"token": token, "expire": expire}
	if payload, err := m.profilePayload(ctx, identity); err == nil {
		response["user"] = payload
	}
	c.JSON(http.StatusOK, response)
}

func (m *Module) handleProfile(c *gin.Context) {
	identity := CurrentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	payload, err := m.profilePayload(c.Request.Context(), identity)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": payload})
}

func (m *Module) handleUpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	if req.DisplayName == nil && req.NewPassword == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	identity := CurrentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx := c.Request.Context()
	if req.NewPassword != nil {
		user, err := m.users.FindByID(ctx, identity.UserID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if !m.users.CheckPassword(user, req.CurrentPassword) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "current password is incorrect"})
			return
		}
	}

	_, err := m.users.UpdateProfile(ctx, identity.UserID, UpdateProfileParams{
		DisplayName: req.DisplayName,
		Password:    req.NewPassword,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidDisplayName), errors.Is(err, ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		}
		return
	}

	payload, err := m.profilePayload(ctx, identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": payload})
}

func (m *Module) profilePayload(ctx context.Context, identity *Identity) (gin.H, error) {
	user, err := m.users.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	orgRoles, err := m.users.OrgRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	memberships := make([]gin.H, 0, len(orgRoles))
	for _, id := range (&Identity{OrgRoles: orgRoles}).MunicipalityIDs() {
		memberships = append(memberships, gin.H{"municipality_id": id, "role": orgRoles[id]})
	}

	payload := gin.H(UserPayload(user))
	payload["memberships"] = memberships
	return payload, nil
}

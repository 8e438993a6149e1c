package authorization

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mojocn/base64Captcha"
)

// CaptchaChallenge represents an issued captcha image.
type CaptchaChallenge struct {
	ID          string
	ImageBase64 string
	ExpiresAt   time.Time
	TTL         time.Duration
}

// CaptchaStore issues digit captchas for the login form and anonymous
// feedback. A nil store accepts every answer.
type CaptchaStore struct {
	mu     sync.Mutex
	driver *base64Captcha.DriverDigit
	store  base64Captcha.Store
	ttl    time.Duration
}

// NewCaptchaStore creates an image-based captcha store with the provided ttl window.
func NewCaptchaStore(ttl time.Duration) *CaptchaStore {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &CaptchaStore{
		driver: base64Captcha.NewDriverDigit(60, 160, 5, 0.7, 80),
		store:  base64Captcha.NewMemoryStore(4096, ttl),
		ttl:    ttl,
	}
}

// Issue generates a new captcha challenge.
func (s *CaptchaStore) Issue() (CaptchaChallenge, error) {
	if s == nil {
		return CaptchaChallenge{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	captcha := base64Captcha.NewCaptcha(s.driver, s.store)
	id, image, _, err := captcha.Generate()
	if err != nil {
		return CaptchaChallenge{}, err
	}

	imageData := strings.TrimSpace(image)
	if imageData != "" && !strings.HasPrefix(imageData, "data:") {
		imageData = "data:image/png;base64," + imageData
	}

	return CaptchaChallenge{ID: id, ImageBase64: imageData, ExpiresAt: time.Now().Add(s.ttl), TTL: s.ttl}, nil
}

// Verify checks the answer and consumes the challenge.
func (s *CaptchaStore) Verify(id, answer string) bool {
	if s == nil {
		return true
	}

	trimmedID := strings.TrimSpace(id)
	trimmedAnswer := strings.TrimSpace(answer)
	if trimmedID == "" || trimmedAnswer == "" {
		return false
	}

	return s.store.Verify(trimmedID, trimmedAnswer, true)
}

// Handler serves a fresh challenge as JSON.
func (s *CaptchaStore) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s == nil {
			c.JSON(http.StatusOK, gin.H{"enabled": false})
			return
		}
		challenge, err := s.Issue()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue captcha"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"enabled":    true,
			"captcha_id": challenge.ID,
			"image":      challenge.ImageBase64,
			"expires_in": int(challenge.TTL.Seconds()),
			"expires_at": challenge.ExpiresAt.UTC(),
		})
	}
}

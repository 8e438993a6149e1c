package storage

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var allowedPurposes = map[string]bool{
	"logo":      true,
	"knowledge": true,
	"avatar":    true,
	"import":    true,
}

type uploadURLRequest struct {
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

// RegisterRoutes mounts POST /api/storage/upload-url. userID extracts the
// caller so uploads land under a per-user prefix.
func RegisterRoutes(router gin.IRouter, store *ObjectStorage, userID func(*gin.Context) uint64) {
	router.POST("/api/storage/upload-url", func(c *gin.Context) {
		if store == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "file storage is not configured"})
			return
		}

		var req uploadURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
			return
		}
		purpose := strings.ToLower(strings.TrimSpace(req.Purpose))
		if purpose == "" {
			purpose = "import"
		}
		if !allowedPurposes[purpose] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown upload purpose"})
			return
		}

		uploadURL, storageID, err := store.PresignedUploadURL(c.Request.Context(), req.Filename, "uploads", purpose, strconv.FormatUint(userID(c), 10))
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "file storage is not configured"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create upload url"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"upload_url": uploadURL, "storage_id": storageID})
	})
}

package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"municonsole_back/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutConfigIsDisabled(t *testing.T) {
	store, err := New(context.Background(), config.MinioConfig{Endpoint: "minio:9000"})
	require.NoError(t, err)
	assert.Nil(t, store)

	_, _, err = store.PresignedUploadURL(context.Background(), "a.txt")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, store.Remove(context.Background(), "x"))

	signed, err := store.PresignedURL(context.Background(), " logos/a.png ", 0)
	require.NoError(t, err)
	assert.Equal(t, "logos/a.png", signed)
}

func TestNewStorageID(t *testing.T) {
	id := NewStorageID("Report.PDF", "/knowledge/", "", "12")
	assert.True(t, strings.HasPrefix(id, "knowledge/12/"), id)
	assert.True(t, strings.HasSuffix(id, ".pdf"), id)
	assert.NoError(t, ValidateStorageID(id))

	assert.False(t, strings.Contains(NewStorageID("weird.ext with space"), " "))
}

func TestValidateStorageID(t *testing.T) {
	for _, bad := range []string{"", "  ", "/etc/passwd", "a/../b", "https://evil/x"} {
		assert.ErrorIs(t, ValidateStorageID(bad), ErrInvalidID, bad)
	}
}

func TestObjectNameFromPublicURL(t *testing.T) {
	store := &ObjectStorage{bucket: "console", publicURL: "https://files.example"}

	name, ok := store.objectName("https://files.example/console/logos/a.png")
	assert.True(t, ok)
	assert.Equal(t, "logos/a.png", name)

	_, ok = store.objectName("https://elsewhere.example/console/logos/a.png")
	assert.False(t, ok)

	name, ok = store.objectName("console/logos/a.png")
	assert.True(t, ok)
	assert.Equal(t, "logos/a.png", name)
}

func TestUploadURLWithoutStorage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, nil, func(*gin.Context) uint64 { return 1 })

	req := httptest.NewRequest(http.MethodPost, "/api/storage/upload-url", strings.NewReader(`{"filename":"a.png","purpose":"logo"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

package utils

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02")

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("0123456789abcdef", time.Minute, time.Hour)
	userID := uuid.New()

	access, err := tokens.GenerateJWT(userID)
	require.NoError(t, err)

	got, err := tokens.ParseAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	other := NewTokens("fedcba9876543210", time.Minute, time.Hour)
	_, err = other.ParseAccessToken(access)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	tokens := NewTokens("0123456789abcdef", -time.Minute, time.Hour)
	access, err := tokens.GenerateJWT(uuid.New())
	require.NoError(t, err)

	_, err = tokens.ParseAccessToken(access)
	assert.Error(t, err)
}

func TestRefreshTokensAreUnique(t *testing.T) {
	tokens := NewTokens("0123456789abcdef", time.Minute, time.Hour)
	userID := uuid.New()

	a, err := tokens.GenerateRefreshToken(userID)
	require.NoError(t, err)
	b, err := tokens.GenerateRefreshToken(userID)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Contains(t, a, userID.String()+"_")
	assert.LessOrEqual(t, len(a), 255)
}

func TestAuthMiddleware(t *testing.T) {
	tokens := NewTokens("0123456789abcdef", time.Minute, time.Hour)
	userID := uuid.New()
	access, err := tokens.GenerateJWT(userID)
	require.NoError(t, err)

	var seen uuid.UUID
	handler := tokens.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserIDFromContext(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, userID, seen)
	})

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token="+access, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"authorization header required"}`, rec.Body.String())
	})

	t.Run("garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func uploadRequest(t *testing.T, filename string, content []byte) (multipart.File, *multipart.FileHeader) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(MaxImageSize))

	file, header, err := req.FormFile("image")
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	return file, header
}

func TestReadImage(t *testing.T) {
	file, header := uploadRequest(t, "chest.PNG", pngHeader)

	img, err := ReadImage(file, header)
	require.NoError(t, err)
	assert.Equal(t, ".png", img.Ext)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "chest.PNG", img.Filename)
	assert.Equal(t, pngHeader, img.Data)
}

func TestReadImageRejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"wrong extension", "notes.pdf", pngHeader},
		{"not an image", "chest.png", []byte("just some text pretending")},
		{"empty", "chest.png", []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, header := uploadRequest(t, tt.filename, tt.content)

			_, err := ReadImage(file, header)
			assert.Error(t, err)
		})
	}
}

func TestNewPagination(t *testing.T) {
	assert.Equal(t, 3, NewPagination(1, 10, 21).TotalPages)
	assert.Equal(t, 2, NewPagination(1, 10, 20).TotalPages)
	assert.Equal(t, 0, NewPagination(1, 10, 0).TotalPages)
}

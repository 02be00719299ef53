package caption

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediscan/mediscan-server/cmd/apperr"
)

func TestCaptionSendsMultipartFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "chest.png", header.Filename)
		assert.Equal(t, "pixels", string(data))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"caption": "No acute cardiopulmonary abnormality."})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	got, err := c.Caption(context.Background(), "chest.png", strings.NewReader("pixels"))

	require.NoError(t, err)
	assert.Equal(t, "No acute cardiopulmonary abnormality.", got)
}

func TestCaptionFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}},
		{"empty caption", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"caption":""}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).Caption(context.Background(), "a.png", strings.NewReader("x"))

			var collab *apperr.CollaboratorError
			require.Error(t, err)
			assert.True(t, errors.As(err, &collab))
		})
	}
}

func TestCaptionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, 200*time.Millisecond, nil).Caption(context.Background(), "a.png", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadGateway, apperr.Status(err))
}

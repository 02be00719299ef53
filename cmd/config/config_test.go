package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/mediscan")
	t.Setenv("SECRET_KEY", "0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 30, cfg.Slots.Minutes)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "http://127.0.0.1:8000/caption", cfg.Caption.URL)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.False(t, cfg.SMTPEnabled())
	assert.NoError(t, cfg.RequireServe())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/mediscan")
	t.Setenv("SLOT_DURATION_MINUTES", "20")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://portal.example.com,https://admin.example.com")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("S3_BUCKET", "xray-uploads")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "no-reply@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Slots.Minutes)
	assert.Equal(t, []string{"https://portal.example.com", "https://admin.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "xray-uploads", cfg.Storage.Bucket)
	assert.True(t, cfg.SMTPEnabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing db url", map[string]string{}, "DB_URL"},
		{"bad slot minutes", map[string]string{"DB_URL": "x", "SLOT_DURATION_MINUTES": "0"}, "SLOT_DURATION_MINUTES"},
		{"unknown storage", map[string]string{"DB_URL": "x", "STORAGE_DRIVER": "ftp"}, "STORAGE_DRIVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateS3NeedsBucket(t *testing.T) {
	cfg := &Config{}
	cfg.Database.URL = "postgres://localhost/mediscan"
	cfg.Slots.Minutes = 30
	cfg.Storage.Driver = "s3"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_BUCKET")
}

func TestRequireServeRejectsShortSecret(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.SecretKey = "short"

	assert.Error(t, cfg.RequireServe())
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediscan/mediscan-server/cmd/config"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/db/dbtest"
)

const secret = "test-secret-key-0123456789"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.HTTP.AllowedOrigins = []string{"*"}
	cfg.Auth.SecretKey = secret
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.RefreshTokenTTL = time.Hour
	cfg.Auth.VerificationTTL = 15 * time.Minute
	cfg.Slots.Minutes = 30
	cfg.Storage.Driver = "local"
	cfg.Storage.LocalDir = t.TempDir()
	cfg.Caption.URL = "http://127.0.0.1:1/caption"
	cfg.Caption.Timeout = time.Second
	return cfg
}

func TestServer(t *testing.T) {
	gdb := dbtest.New(t)
	doctorUser, doctor := dbtest.Doctor(t, gdb, "kofi@example.com")
	dbtest.Rule(t, gdb, doctor.ID, "08:00", "09:00", "Monday")

	s, err := NewApiServer(context.Background(), testConfig(t), gdb, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	slotsURL := srv.URL + "/api/v1/doctors/" + doctor.ID.String() + "/slots?date=2025-01-06"
	resp, err = http.Get(slotsURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := utils.NewTokens(secret, time.Minute, time.Hour).GenerateJWT(doctorUser.ID)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, slotsURL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var body struct {
		Slots []string `json:"available_slots"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"08:00", "08:30"}, body.Slots)

	req, err = http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/appointments", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw := new(strings.Builder)
	_, err = io.Copy(raw, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), `mediscan_http_requests_total{code="200",method="GET",route="/api/v1/doctors/{doctorId}/slots"} 1`)
	assert.Contains(t, raw.String(), `mediscan_slots_queries_total{outcome="ok"} 1`)
}

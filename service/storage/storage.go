package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediscan/mediscan-server/cmd/config"
	"github.com/mediscan/mediscan-server/service/metrics"
)

// Store persists uploaded X-ray images and returns a URL clients can load
// them from.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
	Driver() string
}

// ObjectKey builds "<prefix>/<owner>/<yyyymmdd>-<uuid><ext>".
func ObjectKey(prefix string, owner uuid.UUID, ext string) string {
	return fmt.Sprintf("%s/%s/%s-%s%s",
		prefix,
		owner,
		time.Now().UTC().Format("20060102"),
		uuid.New().String(),
		ext,
	)
}

// New picks the driver named in cfg.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, m *metrics.Metrics) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Storage.Driver {
	case "s3":
		var client S3API
		client, err = NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = NewS3Store(client, cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.PublicBaseURL)
	default:
		store, err = NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, err
		}
	}
	log.Info().Str("driver", store.Driver()).Msg("object storage ready")
	return Instrumented(store, m), nil
}

type instrumented struct {
	Store
	metrics *metrics.Metrics
}

// Instrumented counts uploads by driver and outcome.
func Instrumented(s Store, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{Store: s, metrics: m}
}

func (s *instrumented) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	url, err := s.Store.Put(ctx, key, contentType, body)
	s.metrics.ObserveUpload(s.Driver(), metrics.Outcome(err))
	return url, err
}

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ImagePrefix is the route the local driver's files are served under.
const ImagePrefix = "/images/"

// LocalStore writes images under a directory on disk.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %v", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (s *LocalStore) Driver() string { return "local" }

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func (s *LocalStore) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	filePath, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %v", err)
	}

	dst, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %v", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, body); err != nil {
		return "", fmt.Errorf("failed to save file: %v", err)
	}

	return s.baseURL + ImagePrefix + key, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Handler serves stored files under ImagePrefix.
func (s *LocalStore) Handler() http.Handler {
	return http.StripPrefix(ImagePrefix, http.FileServer(http.Dir(s.dir)))
}

// FileHandler returns the handler for s when it keeps files on local disk.
func FileHandler(s Store) (http.Handler, bool) {
	if i, ok := s.(*instrumented); ok {
		s = i.Store
	}
	local, ok := s.(*LocalStore)
	if !ok {
		return nil, false
	}
	return local.Handler(), true
}

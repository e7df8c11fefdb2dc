package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/mmdatafocus/docs_backend/utils"
)

// LocalStore keeps objects on a billy filesystem (osfs in dev, memfs in tests).
// Its URLs point at GET /files/{path} with a signed token.
type LocalStore struct {
	fs      billy.Filesystem
	baseURL string
}

func NewLocalStore(fs billy.Filesystem, baseURL string) *LocalStore {
	return &LocalStore{fs: fs, baseURL: strings.TrimRight(baseURL, "/")}
}

var ErrInvalidPath = errors.New("invalid object path")

func cleanKey(objectKey string) (string, error) {
	if objectKey == "" || strings.Contains(objectKey, "..") || strings.HasPrefix(objectKey, "/") {
		return "", ErrInvalidPath
	}
	return path.Clean(objectKey), nil
}

func (s *LocalStore) Put(_ context.Context, objectKey string, data []byte, _ string) error {
	key, err := cleanKey(objectKey)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return err
	}
	return util.WriteFile(s.fs, key, data, 0o644)
}

func (s *LocalStore) Open(_ context.Context, objectKey string) (io.ReadCloser, error) {
	key, err := cleanKey(objectKey)
	if err != nil {
		return nil, err
	}
	return s.fs.Open(key)
}

func (s *LocalStore) Delete(_ context.Context, objectKey string) error {
	key, err := cleanKey(objectKey)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalStore) URLFor(_ context.Context, objectKey string, _ string, disposition Disposition, expiry time.Duration) (*SignedURL, error) {
	key, err := cleanKey(objectKey)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := utils.SignFileToken(key, string(disposition), expiry)
	if err != nil {
		return nil, err
	}
	return &SignedURL{
		URL:       s.baseURL + "/files/" + key + "?token=" + url.QueryEscape(token),
		ExpiresAt: expiresAt,
	}, nil
}

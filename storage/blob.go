package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/sirupsen/logrus"
)

type Disposition string

const (
	DispositionInline     Disposition = "inline"
	DispositionAttachment Disposition = "attachment"
)

func ParseDisposition(v string) Disposition {
	if strings.EqualFold(strings.TrimSpace(v), string(DispositionInline)) {
		return DispositionInline
	}
	return DispositionAttachment
}

// Header renders a Content-Disposition value for fileName.
func (d Disposition) Header(fileName string) string {
	return fmt.Sprintf("%s; filename=%q", d, fileName)
}

// Upload is one incoming file.
type Upload struct {
	FileName string
	Content  io.Reader
}

// StoredObject is what the Document row keeps about a stored file.
type StoredObject struct {
	Path          string `json:"path"`
	FileName      string `json:"file_name"`
	Size          int64  `json:"size"`
	MimeType      string `json:"mime_type"`
	Extension     string `json:"extension"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BlobStore is the file backend. Delete of a missing object is not an error.
type BlobStore interface {
	Put(ctx context.Context, objectKey string, data []byte, contentType string) error
	Open(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectKey string) error
	URLFor(ctx context.Context, objectKey string, fileName string, disposition Disposition, expiry time.Duration) (*SignedURL, error)
}

var allowedMimeTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.ms-excel",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"text/plain",
	"text/csv",
	"image/jpeg",
	"image/png",
}

func allowed(mt *mimetype.MIME) bool {
	for _, m := range allowedMimeTypes {
		if mt.Is(m) {
			return true
		}
	}
	return false
}

// NormalizeExtension lower-cases and strips the leading dot.
func NormalizeExtension(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

func objectKeyFor(ext string, now time.Time) string {
	name := uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	return path.Join("documents", now.Format("2006/01"), name)
}

// Save sniffs, validates and stores an upload, adding a thumbnail for images.
// Validation failures are *utils.ValidationError keyed by "file".
func Save(ctx context.Context, store BlobStore, upload Upload, maxBytes int64, logger *logrus.Logger) (*StoredObject, error) {
	data, err := io.ReadAll(io.LimitReader(upload.Content, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, utils.NewValidationError("file", "is empty")
	}
	if int64(len(data)) > maxBytes {
		return nil, utils.NewValidationError("file", fmt.Sprintf("exceeds %d MB limit", maxBytes>>20))
	}

	mt := mimetype.Detect(data)
	if !allowed(mt) {
		return nil, utils.NewValidationError("file", "unsupported file type "+mt.String())
	}

	ext := NormalizeExtension(filepath.Ext(upload.FileName))
	if ext == "" {
		ext = NormalizeExtension(mt.Extension())
	}

	obj := &StoredObject{
		Path:      objectKeyFor(ext, time.Now()),
		FileName:  filepath.Base(upload.FileName),
		Size:      int64(len(data)),
		MimeType:  mt.String(),
		Extension: ext,
	}
	if err := store.Put(ctx, obj.Path, data, obj.MimeType); err != nil {
		return nil, fmt.Errorf("store %s: %w", obj.Path, err)
	}

	if IsImage(obj.MimeType) {
		thumb, err := MakeThumbnail(bytes.NewReader(data))
		if err == nil {
			thumbKey := ThumbnailPath(obj.Path)
			err = store.Put(ctx, thumbKey, thumb, "image/jpeg")
			if err == nil {
				obj.ThumbnailPath = thumbKey
			}
		}
		if err != nil && logger != nil {
			logger.WithFields(logrus.Fields{
				"module":   "storage",
				"funcName": "Save",
				"path":     obj.Path,
			}).Warn("thumbnail skipped: " + err.Error())
		}
	}

	return obj, nil
}

// Remove deletes an object and its thumbnail, ignoring empty paths.
func Remove(ctx context.Context, store BlobStore, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := store.Delete(ctx, p); err != nil {
			return fmt.Errorf("delete %s: %w", p, err)
		}
	}
	return nil
}

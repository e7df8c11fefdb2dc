package storage

import (
	"bytes"
	"io"
	"path"
	"strings"

	"github.com/disintegration/imaging"
)

const thumbnailWidth = 200

func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/jpeg") || strings.HasPrefix(mimeType, "image/png")
}

func MakeThumbnail(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, err
	}
	thumbnail := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ThumbnailPath(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := path.Base(objectKey)
	return path.Join(dir, "thumbnails", filename)
}

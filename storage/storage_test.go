package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

const samplePDF = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"

func TestSavePDF(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(memfs.New(), "http://docs.local")

	obj, err := Save(ctx, store, Upload{FileName: "Report.PDF", Content: strings.NewReader(samplePDF)}, 1<<20, nil)
	require.NoError(t, err)

	assert.Equal(t, "pdf", obj.Extension)
	assert.Equal(t, "application/pdf", obj.MimeType)
	assert.Equal(t, int64(len(samplePDF)), obj.Size)
	assert.Equal(t, "Report.PDF", obj.FileName)
	assert.True(t, strings.HasPrefix(obj.Path, "documents/"))
	assert.Empty(t, obj.ThumbnailPath)

	r, err := store.Open(ctx, obj.Path)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, string(got))
}

func TestSaveImageAddsThumbnail(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(memfs.New(), "http://docs.local")

	obj, err := Save(ctx, store, Upload{FileName: "scan.png", Content: bytes.NewReader(pngBytes(t, 800, 400))}, 1<<20, nil)
	require.NoError(t, err)
	require.NotEmpty(t, obj.ThumbnailPath)
	assert.Equal(t, ThumbnailPath(obj.Path), obj.ThumbnailPath)

	r, err := store.Open(ctx, obj.ThumbnailPath)
	require.NoError(t, err)
	defer r.Close()
	thumb, _, err := image.Decode(r)
	require.NoError(t, err)
	assert.Equal(t, 200, thumb.Bounds().Dx())
	assert.Equal(t, 100, thumb.Bounds().Dy())
}

func TestSaveRejects(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(memfs.New(), "http://docs.local")

	cases := map[string]Upload{
		"empty":       {FileName: "a.pdf", Content: strings.NewReader("")},
		"too large":   {FileName: "a.pdf", Content: strings.NewReader(samplePDF + strings.Repeat("x", 2048))},
		"unsupported": {FileName: "a.bin", Content: bytes.NewReader([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0})},
	}
	for name, upload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Save(ctx, store, upload, 1024, nil)
			var verr *utils.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Contains(t, verr.Fields, "file")
		})
	}
}

func TestLocalStoreSignedURL(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(memfs.New(), "http://docs.local/")
	require.NoError(t, store.Put(ctx, "documents/2024/01/x.pdf", []byte(samplePDF), "application/pdf"))

	signed, err := store.URLFor(ctx, "documents/2024/01/x.pdf", "x.pdf", DispositionInline, time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(signed.URL)
	require.NoError(t, err)
	assert.Equal(t, "/files/documents/2024/01/x.pdf", u.Path)

	claim, err := utils.ValidateFileToken(u.Query().Get("token"))
	require.NoError(t, err)
	assert.Equal(t, "documents/2024/01/x.pdf", claim.Path)
	assert.Equal(t, "inline", claim.Disposition)
}

func TestLocalStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(memfs.New(), "")
	require.NoError(t, store.Put(ctx, "documents/a.txt", []byte("hello world"), "text/plain"))
	require.NoError(t, Remove(ctx, store, "documents/a.txt", ""))
	require.NoError(t, store.Delete(ctx, "documents/a.txt"))

	_, err := store.Open(ctx, "documents/a.txt")
	assert.Error(t, err)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store := NewLocalStore(memfs.New(), "")
	assert.ErrorIs(t, store.Put(context.Background(), "../etc/passwd", nil, ""), ErrInvalidPath)
}

func TestParseDisposition(t *testing.T) {
	assert.Equal(t, DispositionInline, ParseDisposition("INLINE"))
	assert.Equal(t, DispositionAttachment, ParseDisposition(""))
	assert.Equal(t, `attachment; filename="a b.pdf"`, DispositionAttachment.Header("a b.pdf"))
}

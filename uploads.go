package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/sirupsen/logrus"
)

// sniffLen is how much of an object is read to detect its content type.
const sniffLen = 3072

// serveFileHandler streams a blob for a signed URL issued by the local storage provider.
// The token pins both the object path and the disposition.
func serveFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		objectKey := strings.TrimPrefix(c.Param("path"), "/")
		claim, err := utils.ValidateFileToken(c.Query("token"))
		if err != nil || claim.Path != objectKey {
			fail(c, http.StatusForbidden, "invalid or expired link", nil)
			return
		}

		store := models.GetBlobStore()
		if store == nil {
			fail(c, http.StatusNotFound, "not found", nil)
			return
		}
		reader, err := store.Open(c.Request.Context(), objectKey)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidPath) {
				fail(c, http.StatusNotFound, "not found", nil)
				return
			}
			logUploadError(config.GetLogger(), err, storage.GetStorageProvider(), requestIDFromHeaders(c))
			fail(c, http.StatusInternalServerError, "storage error", nil)
			return
		}
		defer reader.Close()

		head := make([]byte, sniffLen)
		n, err := io.ReadFull(reader, head)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			logUploadError(config.GetLogger(), err, storage.GetStorageProvider(), requestIDFromHeaders(c))
			fail(c, http.StatusInternalServerError, "storage error", nil)
			return
		}
		head = head[:n]

		c.Header("Content-Type", mimetype.Detect(head).String())
		c.Header("Content-Disposition", storage.Disposition(claim.Disposition).Header(fileNameOf(objectKey)))
		c.Status(http.StatusOK)
		if _, err := c.Writer.Write(head); err != nil {
			return
		}
		_, _ = io.Copy(c.Writer, reader)
	}
}

func fileNameOf(objectKey string) string {
	if i := strings.LastIndex(objectKey, "/"); i >= 0 {
		return objectKey[i+1:]
	}
	return objectKey
}

func logUploadError(logger *logrus.Logger, err error, provider string, requestID string) {
	logger.WithFields(logrus.Fields{
		"error":      err.Error(),
		"provider":   provider,
		"request_id": requestID,
	}).Error("[upload.error]")
}

func requestIDFromHeaders(c *gin.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok && id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader("X-Request-Id"))
}

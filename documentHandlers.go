package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/docs_backend/middlewares"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/storage"
	"github.com/mmdatafocus/docs_backend/utils"
)

// documentResponse is a Document with its parents and uploader expanded.
type documentResponse struct {
	*models.Document
	Direction      *models.Direction      `json:"direction"`
	SupportProcess *models.SupportProcess `json:"support_process"`
	Uploader       *models.User           `json:"uploader"`
}

func expandDocument(c *gin.Context, document *models.Document) (*documentResponse, error) {
	ctx := c.Request.Context()
	r := &documentResponse{Document: document}

	// queue all three loads before waiting on any
	direction := middlewares.For(ctx).DirectionLoader.Load(ctx, document.DirectionId)
	process := middlewares.For(ctx).SupportProcessLoader.Load(ctx, document.SupportProcessId)
	uploader := middlewares.For(ctx).UserLoader.Load(ctx, document.UploadedBy)

	var err error
	if r.Direction, err = direction(); err != nil {
		return nil, err
	}
	if r.SupportProcess, err = process(); err != nil {
		return nil, err
	}
	// an uploader removed out of band still leaves a readable document
	if r.Uploader, err = uploader(); err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}
	return r, nil
}

func searchDocumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.DocumentFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			bindError(c, err)
			return
		}
		page, err := models.SearchDocuments(c.Request.Context(), filter)
		if err != nil {
			respondError(c, "searchDocumentsHandler", err)
			return
		}
		ok(c, page)
	}
}

func getDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		document, err := models.GetDocument(c.Request.Context(), id)
		if err != nil {
			respondError(c, "getDocumentHandler", err)
			return
		}
		r, err := expandDocument(c, document)
		if err != nil {
			respondError(c, "getDocumentHandler", err)
			return
		}
		ok(c, r)
	}
}

func createDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewDocument
		if err := c.ShouldBind(&input); err != nil {
			bindError(c, err)
			return
		}
		header, err := c.FormFile("file")
		if err != nil {
			fail(c, http.StatusUnprocessableEntity, "validation failed", gin.H{"errors": gin.H{"file": "is required"}})
			return
		}
		file, err := header.Open()
		if err != nil {
			respondError(c, "createDocumentHandler", err)
			return
		}
		defer file.Close()

		document, err := models.CreateDocument(c.Request.Context(), &input, storage.Upload{
			FileName: header.Filename,
			Content:  file,
		})
		if err != nil {
			respondError(c, "createDocumentHandler", err)
			return
		}
		created(c, document, "document uploaded")
	}
}

func updateDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		var input models.DocumentUpdate
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		document, err := models.UpdateDocument(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, "updateDocumentHandler", err)
			return
		}
		respond(c, http.StatusOK, document, "document updated")
	}
}

func deleteDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		document, err := models.DeleteDocument(c.Request.Context(), id)
		if err != nil {
			respondError(c, "deleteDocumentHandler", err)
			return
		}
		respond(c, http.StatusOK, document, "document deleted")
	}
}

func downloadDocumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		signed, err := models.RecordDownload(c.Request.Context(), id, storage.ParseDisposition(c.Query("disposition")))
		if err != nil {
			respondError(c, "downloadDocumentHandler", err)
			return
		}
		ok(c, signed)
	}
}

func globalStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := models.GetGlobalStats(c.Request.Context())
		if err != nil {
			respondError(c, "globalStatsHandler", err)
			return
		}
		ok(c, stats)
	}
}

package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Documents"

var exportHeadings = []string{
	"ID", "Title", "Direction", "Support Process", "Classification", "Kind",
	"Tags", "File Name", "Extension", "Size (MB)", "Downloads", "Uploaded By", "Created At",
}

func exportRow(d models.DocumentSummary) []interface{} {
	return []interface{}{
		d.ID,
		d.Title,
		d.DirectionCode + " " + d.DirectionName,
		d.SupportProcessName,
		string(d.Classification),
		d.Kind,
		strings.Join(d.Tags, ", "),
		d.FileName,
		d.Extension,
		d.SizeMB.InexactFloat64(),
		d.DownloadCount,
		d.UploaderName,
		d.CreatedAt.Format(time.DateTime),
	}
}

// buildExport writes one row per document under a heading row.
func buildExport(rows []models.DocumentSummary) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeadings); err != nil {
		_ = f.Close()
		return nil, err
	}
	for i, d := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		values := exportRow(d)
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

func exportDocumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.DocumentFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			bindError(c, err)
			return
		}
		rows, err := models.ExportDocuments(c.Request.Context(), filter)
		if err != nil {
			respondError(c, "exportDocumentsHandler", err)
			return
		}
		f, err := buildExport(rows)
		if err != nil {
			respondError(c, "exportDocumentsHandler", err)
			return
		}
		defer f.Close()

		fileName := fmt.Sprintf("documents-%s.xlsx", time.Now().Format("20060102-150405"))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename="+fileName)
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "main", "exportDocumentsHandler", "write xlsx", nil, err)
		}
	}
}

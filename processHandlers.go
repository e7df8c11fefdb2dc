package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/middlewares"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/utils"
)

// processResponse expands the owning direction for clients that render both.
type processResponse struct {
	*models.SupportProcess
	Direction *models.Direction `json:"direction"`
}

func listProcessesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		directionId, valid := optionalInt(c, "direction_id")
		if !valid {
			return
		}
		page, pageSize, paged, valid := paging(c)
		if !valid {
			return
		}
		ctx := c.Request.Context()
		processes, err := models.ListSupportProcesses(ctx, directionId)
		if err != nil {
			respondError(c, "listProcessesHandler", err)
			return
		}
		var current *models.Page[*models.SupportProcess]
		if paged {
			current = models.PageOf(processes, page, pageSize, config.GetSearchSettings())
			processes = current.Items
		}

		ids := make([]int, 0, len(processes))
		for _, p := range processes {
			if p.DirectionId != nil {
				ids = append(ids, *p.DirectionId)
			}
		}
		ids = utils.UniqueSlice(ids)
		directions, errs := middlewares.GetDirections(ctx, ids)

		// errs is nil when every key loaded
		byId := make(map[int]*models.Direction, len(ids))
		for i, d := range directions {
			if d != nil && (errs == nil || errs[i] == nil) {
				byId[d.ID] = d
			}
		}
		results := make([]processResponse, 0, len(processes))
		for _, p := range processes {
			r := processResponse{SupportProcess: p}
			if p.DirectionId != nil {
				r.Direction = byId[*p.DirectionId]
			}
			results = append(results, r)
		}
		if current != nil {
			ok(c, &models.Page[processResponse]{
				Items:      results,
				TotalCount: current.TotalCount,
				Page:       current.Page,
				PageSize:   current.PageSize,
				LastPage:   current.LastPage,
			})
			return
		}
		ok(c, results)
	}
}

func getProcessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		ctx := c.Request.Context()
		process, err := models.GetSupportProcess(ctx, id)
		if err != nil {
			respondError(c, "getProcessHandler", err)
			return
		}
		r := processResponse{SupportProcess: process}
		if process.DirectionId != nil {
			if r.Direction, err = middlewares.GetDirection(ctx, *process.DirectionId); err != nil {
				respondError(c, "getProcessHandler", err)
				return
			}
		}
		ok(c, r)
	}
}

func createProcessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSupportProcess
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		process, err := models.CreateSupportProcess(c.Request.Context(), &input)
		if err != nil {
			respondError(c, "createProcessHandler", err)
			return
		}
		created(c, process, "support process created")
	}
}

func updateProcessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		var input models.NewSupportProcess
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		process, err := models.UpdateSupportProcess(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, "updateProcessHandler", err)
			return
		}
		respond(c, http.StatusOK, process, "support process updated")
	}
}

func deleteProcessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		process, err := models.DeleteSupportProcess(c.Request.Context(), id)
		if err != nil {
			respondError(c, "deleteProcessHandler", err)
			return
		}
		respond(c, http.StatusOK, process, "support process deleted")
	}
}

func toggleProcessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		var input toggleActiveInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		process, err := models.ToggleActiveSupportProcess(c.Request.Context(), id, *input.IsActive)
		if err != nil {
			respondError(c, "toggleProcessHandler", err)
			return
		}
		ok(c, process)
	}
}

func processStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		stats, err := models.GetProcessStats(c.Request.Context(), id)
		if err != nil {
			respondError(c, "processStatsHandler", err)
			return
		}
		ok(c, stats)
	}
}

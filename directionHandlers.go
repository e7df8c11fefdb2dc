package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
)

func listDirectionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		isActive, valid := optionalBool(c, "active")
		if !valid {
			return
		}
		page, pageSize, paged, valid := paging(c)
		if !valid {
			return
		}
		directions, err := models.ListDirections(c.Request.Context(), isActive)
		if err != nil {
			respondError(c, "listDirectionsHandler", err)
			return
		}
		if paged {
			ok(c, models.PageOf(directions, page, pageSize, config.GetSearchSettings()))
			return
		}
		ok(c, directions)
	}
}

func getDirectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		direction, err := models.GetDirection(c.Request.Context(), id)
		if err != nil {
			respondError(c, "getDirectionHandler", err)
			return
		}
		ok(c, direction)
	}
}

func createDirectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewDirection
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		direction, err := models.CreateDirection(c.Request.Context(), &input)
		if err != nil {
			respondError(c, "createDirectionHandler", err)
			return
		}
		created(c, direction, "direction created")
	}
}

func updateDirectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		var input models.NewDirection
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		direction, err := models.UpdateDirection(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, "updateDirectionHandler", err)
			return
		}
		respond(c, http.StatusOK, direction, "direction updated")
	}
}

func deleteDirectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		direction, err := models.DeleteDirection(c.Request.Context(), id)
		if err != nil {
			respondError(c, "deleteDirectionHandler", err)
			return
		}
		respond(c, http.StatusOK, direction, "direction deleted")
	}
}

type toggleActiveInput struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func toggleDirectionHandler() gin.HandlerFunc {
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
		direction, err := models.ToggleActiveDirection(c.Request.Context(), id, *input.IsActive)
		if err != nil {
			respondError(c, "toggleDirectionHandler", err)
			return
		}
		ok(c, direction)
	}
}

func directionProcessesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		processes, err := models.ListSupportProcesses(c.Request.Context(), &id)
		if err != nil {
			respondError(c, "directionProcessesHandler", err)
			return
		}
		ok(c, processes)
	}
}

func directionStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathId(c, "id")
		if !valid {
			return
		}
		stats, err := models.GetDirectionStats(c.Request.Context(), id)
		if err != nil {
			respondError(c, "directionStatsHandler", err)
			return
		}
		ok(c, stats)
	}
}

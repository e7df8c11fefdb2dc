package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/sirupsen/logrus"
)

// every response carries {success, data, message}
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, data any, message string) {
	c.JSON(status, envelope{Success: true, Data: data, Message: message})
}

func ok(c *gin.Context, data any) {
	respond(c, http.StatusOK, data, "")
}

func created(c *gin.Context, data any, message string) {
	respond(c, http.StatusCreated, data, message)
}

func fail(c *gin.Context, status int, message string, extra gin.H) {
	body := gin.H{"success": false, "data": nil, "message": message}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// respondError maps the error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, funcName string, err error) {
	var (
		validationErr  *utils.ValidationError
		fieldErrs      validator.ValidationErrors
		notFoundErr    *utils.NotFoundError
		conflictErr    *utils.ConflictError
		consistencyErr *utils.ConsistencyViolation
	)

	switch {
	case errors.As(err, &fieldErrs):
		fail(c, http.StatusUnprocessableEntity, "validation failed", gin.H{"errors": utils.ProcessValidationErrors(err)})
	case errors.As(err, &validationErr):
		fail(c, http.StatusUnprocessableEntity, "validation failed", gin.H{"errors": validationErr.Fields})
	case errors.As(err, &notFoundErr):
		fail(c, http.StatusNotFound, notFoundErr.Error(), nil)
	case errors.Is(err, utils.ErrorRecordNotFound):
		fail(c, http.StatusNotFound, "not found", nil)
	case errors.As(err, &conflictErr):
		fail(c, http.StatusConflict, conflictErr.Reason, gin.H{"dependent_count": conflictErr.DependentCount})
	case errors.As(err, &consistencyErr):
		// already alert-logged where it was detected
		fail(c, http.StatusConflict, consistencyErr.Error(), gin.H{"code": "consistency_violation"})
	case errors.Is(err, utils.ErrForbidden):
		fail(c, http.StatusForbidden, "forbidden", nil)
	case errors.Is(err, utils.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, "unauthorized", nil)
	default:
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.GetLogger().WithFields(logrus.Fields{
			"module":         "main",
			"funcName":       funcName,
			"path":           c.FullPath(),
			"correlation_id": cid,
		}).Error(err.Error())
		fail(c, http.StatusInternalServerError, "internal server error", nil)
	}
}

// bindError answers a request body or query that did not bind.
func bindError(c *gin.Context, err error) {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fail(c, http.StatusUnprocessableEntity, "validation failed", gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	fail(c, http.StatusUnprocessableEntity, "validation failed", gin.H{"errors": gin.H{"body": err.Error()}})
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		fail(c, http.StatusNotFound, "not found", nil)
		return 0, false
	}
	return id, true
}

// optionalBool reads ?name=true|false; anything else is nil.
func optionalBool(c *gin.Context, name string) (*bool, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, "validation failed", gin.H{"errors": gin.H{name: "must be true or false"}})
		return nil, false
	}
	return &v, true
}

func optionalInt(c *gin.Context, name string) (*int, bool) {
	raw, present := c.GetQuery(name)
	if !present || raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		fail(c, http.StatusUnprocessableEntity, "validation failed", gin.H{"errors": gin.H{name: "must be a positive integer"}})
		return nil, false
	}
	return &v, true
}

// paging reads the optional page and page_size query params. paged is false when
// neither is given and the caller should answer with the whole list.
func paging(c *gin.Context) (page int, pageSize int, paged bool, valid bool) {
	p, valid := optionalInt(c, "page")
	if !valid {
		return 0, 0, false, false
	}
	size, valid := optionalInt(c, "page_size")
	if !valid {
		return 0, 0, false, false
	}
	if p == nil && size == nil {
		return 0, 0, false, true
	}
	return utils.DereferencePtr(p), utils.DereferencePtr(size), true, true
}

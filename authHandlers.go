package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/docs_backend/middlewares"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/utils"
)

type loginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input loginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		info, err := models.Login(c.Request.Context(), input.Username, input.Password)
		if errors.Is(err, models.ErrInvalidCredentials) {
			fail(c, http.StatusUnauthorized, err.Error(), nil)
			return
		}
		if err != nil {
			respondError(c, "loginHandler", err)
			return
		}
		ok(c, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := models.Logout(c.Request.Context()); err != nil {
			respondError(c, "logoutHandler", err)
			return
		}
		respond(c, http.StatusOK, nil, "logged out")
	}
}

func meHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		current, _ := utils.GetCurrentUserFromContext(c.Request.Context())
		user, err := middlewares.GetUser(c.Request.Context(), current.ID)
		if err != nil {
			respondError(c, "meHandler", err)
			return
		}
		ok(c, user)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			respondError(c, "createUserHandler", err)
			return
		}
		created(c, user, "user created")
	}
}

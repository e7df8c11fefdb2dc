package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/sirupsen/logrus"
)

const (
	PermissionManageDirections = "directions.manage"
	PermissionManageProcesses  = "processes.manage"
	PermissionWriteDocuments   = "documents.write"
	PermissionManageUsers      = "users.manage"
)

// admin-only permissions; any other known permission is granted to every active user
var adminPermissions = map[string]bool{
	PermissionManageDirections: true,
	PermissionManageProcesses:  true,
	PermissionManageUsers:      true,
}

func abortWithMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "data": nil, "message": message})
}

// AuthMiddleware resolves the bearer token to the current user. Requests without a
// token pass through anonymous; RequireAuth rejects them later where needed.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			abortWithMessage(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		token := strings.TrimSpace(auth[len(bearer):])

		validate, err := utils.JwtValidate(token)
		if err != nil || !validate.Valid {
			abortWithMessage(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			abortWithMessage(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		if !sessionAlive(claims) {
			abortWithMessage(c, http.StatusUnauthorized, "session expired")
			return
		}

		user, err := GetUser(c.Request.Context(), claims.ID)
		if err != nil || !utils.DereferencePtr(user.IsActive) {
			abortWithMessage(c, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetSessionIdInContext(ctx, claims.Id)
		ctx = utils.SetCurrentUserInContext(ctx, user.CurrentUser())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetCurrentUserFromContext(c.Request.Context()); !ok {
			abortWithMessage(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

// RequirePermission is the gate in front of protected mutations.
func RequirePermission(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := utils.GetCurrentUserFromContext(c.Request.Context())
		if !ok {
			abortWithMessage(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !HasPermission(user, name) {
			config.GetLogger().WithFields(logrus.Fields{
				"module":     "middlewares",
				"funcName":   "RequirePermission",
				"user_id":    user.ID,
				"permission": name,
			}).Info("permission denied")
			abortWithMessage(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

func HasPermission(user utils.CurrentUser, name string) bool {
	if user.IsAdmin {
		return true
	}
	return !adminPermissions[name]
}

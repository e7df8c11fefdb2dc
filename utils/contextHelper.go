package utils

import (
	"context"

	"github.com/mmdatafocus/docs_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeySessionId     = appctx.ContextKeySessionId
	ContextKeyUsername      = appctx.ContextKeyUsername
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyIsAdmin       = appctx.ContextKeyIsAdmin
)

// CurrentUser is what the auth layer knows about the caller.
type CurrentUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	IsAdmin  bool   `json:"is_admin"`
}

func GetSessionIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySessionId)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUsername)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetIsAdminFromContext(ctx context.Context) (bool, bool) {
	return appctx.GetBool(ctx, ContextKeyIsAdmin)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetSessionIdInContext(ctx context.Context, sessionId string) context.Context {
	return appctx.Set(ctx, ContextKeySessionId, sessionId)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.Set(ctx, ContextKeyUsername, username)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetIsAdminInContext(ctx context.Context, isAdmin bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsAdmin, isAdmin)
}

// SetCurrentUserInContext stores every user field the handlers and models read.
func SetCurrentUserInContext(ctx context.Context, user CurrentUser) context.Context {
	ctx = SetUserIdInContext(ctx, user.ID)
	ctx = SetUsernameInContext(ctx, user.Username)
	ctx = SetUserNameInContext(ctx, user.Name)
	return SetIsAdminInContext(ctx, user.IsAdmin)
}

// GetCurrentUserFromContext returns false when the request is anonymous.
func GetCurrentUserFromContext(ctx context.Context) (CurrentUser, bool) {
	id, ok := GetUserIdFromContext(ctx)
	if !ok || id <= 0 {
		return CurrentUser{}, false
	}
	username, _ := GetUsernameFromContext(ctx)
	name, _ := GetUserNameFromContext(ctx)
	isAdmin, _ := GetIsAdminFromContext(ctx)
	return CurrentUser{ID: id, Username: username, Name: name, IsAdmin: isAdmin}, true
}

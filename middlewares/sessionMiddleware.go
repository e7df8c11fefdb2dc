package middlewares

import (
	"github.com/mmdatafocus/docs_backend/config"
	"github.com/mmdatafocus/docs_backend/models"
	"github.com/mmdatafocus/docs_backend/utils"
)

// sessionAlive checks the token's session in redis. Logout deletes it.
// Without redis, a valid signature is enough.
func sessionAlive(claims *utils.JwtCustomClaim) bool {
	if config.GetRedisDB() == nil {
		return true
	}
	userId, ok, err := models.SessionUserId(claims.Id)
	if err != nil {
		config.LogError(config.GetLogger(), "middlewares", "sessionAlive", "read session", nil, err)
		return false
	}
	return ok && userId == claims.ID
}

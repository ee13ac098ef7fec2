package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/paramdnoid/weppixpress-sub004/internal/db"
)

// APIKeyAuth resolves the X-API-KEY header to a user and stores the caller
// id in the request context. Every upload route sits behind it.
func APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing X-API-KEY header"})
			return
		}

		user, err := db.GetUserByAPIKey(apiKey)
		if err != nil || user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		c.Set("user_id", strconv.FormatInt(user.ID, 10))
		c.Next()
	}
}

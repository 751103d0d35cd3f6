package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/playmate/internal/auth"
	"github.com/suPer8Hu/playmate/internal/common"
)

const ChannelKey = "channel"

// AuthRequired accepts only requests carrying a valid bearer token and
// stores the token's channel under ChannelKey.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}
		channel, err := auth.ParseJWT(strings.TrimSpace(header[7:]), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}
		c.Set(ChannelKey, channel)
		c.Next()
	}
}

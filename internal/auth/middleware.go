package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the *Result of an authenticated request.
const ResultKey = "auth_result"

// GinAuth rejects requests that carry no valid credentials with 401.
func (s *Service) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.Authenticate(c.Request)
		if err != nil {
			c.Header("WWW-Authenticate", `Basic realm="stackd"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ResultKey, res)
		c.Next()
	}
}

// GinLogin answers POST requests carrying basic credentials with a JWT.
func (s *Service) GinLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="stackd"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrNoCredentials.Error()})
			return
		}
		tok, err := s.Login(user, pass)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, tok)
	}
}

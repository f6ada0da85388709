package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	basichttp "h2all/internal/http"
	"h2all/internal/utils"
)

// ValidateUUIDParam rejects requests whose path parameter is not a UUID and
// rewrites it to its normalized form.
func ValidateUUIDParam(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		normalized, err := utils.CanonicalID(c.Param(paramName))
		if err != nil {
			basichttp.Fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "invalid "+paramName+" format")
			c.Abort()
			return
		}
		setParam(c, paramName, normalized)
		c.Next()
	}
}

// ValidatePatternParam rejects requests whose path parameter does not match re.
func ValidatePatternParam(paramName string, re *regexp.Regexp) gin.HandlerFunc {
	return func(c *gin.Context) {
		value := c.Param(paramName)
		if value == "" {
			basichttp.Fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "missing "+paramName)
			c.Abort()
			return
		}
		if !re.MatchString(value) {
			basichttp.Fail(c, http.StatusBadRequest, "VALIDATION_FAILED", "invalid "+paramName+" format")
			c.Abort()
			return
		}
		c.Next()
	}
}

func setParam(c *gin.Context, key, value string) {
	for i := range c.Params {
		if c.Params[i].Key == key {
			c.Params[i].Value = value
			return
		}
	}
}

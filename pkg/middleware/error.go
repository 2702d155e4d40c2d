package middleware

import (
	"net/http"

	"github.com/bountyboard/bountyboard/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error a handler attached to the context. BaseError
// carries its own HTTP mapping; anything else is an opaque 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": errutil.StatusInternal, "message": "internal error"},
		})
	}
}

package dto

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
)

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// SendError writes err in the broker's error shape and mirrors retry_after into the
// Retry-After header.
// SendError 以代理的错误格式写出 err，并将 retry_after 同步到 Retry-After 头。
func SendError(c *gin.Context, err error) {
	status, body := errors.ToErrorResponse(err, c.GetString(string(constants.ContextKeyRequestID)))
	if body.RetryAfter != nil {
		c.Header(constants.HeaderRetryAfter, strconv.FormatInt(*body.RetryAfter, 10))
	}
	c.AbortWithStatusJSON(status, body)
}

// SendSuccess writes a 200 JSON body.
func SendSuccess(c *gin.Context, body interface{}) {
	c.JSON(http.StatusOK, body)
}

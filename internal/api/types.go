package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paramdnoid/weppixpress-sub004/internal/upload"
)

// FileEventMessage is the payload pushed to websocket subscribers of a
// folder when an upload finalizes into it.
type FileEventMessage struct {
	Type string `json:"type"` // "file_created"
	Path string `json:"path"`
	Size int64  `json:"size"`
}

var statusByCode = map[string]int{
	upload.CodeInvalidRequest:       http.StatusBadRequest,
	upload.CodePathViolation:        http.StatusForbidden,
	upload.CodeNotFound:             http.StatusNotFound,
	upload.CodeInvalidState:         http.StatusConflict,
	upload.CodeChunkIndexOutOfRange: http.StatusRequestedRangeNotSatisfiable,
	upload.CodeOffsetMismatch:       http.StatusConflict,
	upload.CodePayloadTooLarge:      http.StatusRequestEntityTooLarge,
	upload.CodeQuotaExceeded:        http.StatusTooManyRequests,
	upload.CodeTooManyConcurrent:    http.StatusTooManyRequests,
	upload.CodeAssemblyError:        http.StatusInternalServerError,
	upload.CodeTimeout:              http.StatusServiceUnavailable,
}

// writeUploadError maps engine errors to stable {code, message} responses.
func writeUploadError(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    upload.CodeTimeout,
			"message": "request timed out, retry is safe",
		})
		return
	}

	var ue *upload.Error
	if !errors.As(err, &ue) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "InternalError",
			"message": err.Error(),
		})
		return
	}

	status, ok := statusByCode[ue.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := gin.H{
		"code":      ue.Code,
		"message":   ue.Message,
		"retryable": ue.Retryable,
	}
	if ue.Code == upload.CodeOffsetMismatch {
		body["expectedOffset"] = ue.ExpectedOffset
	}
	c.JSON(status, body)
}

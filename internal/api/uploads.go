package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paramdnoid/weppixpress-sub004/internal/upload"
)

// Handler carries the upload engine dependencies for the HTTP surface.
type Handler struct {
	Manager *upload.Manager
	Reaper  *upload.Reaper
	Timeout time.Duration
}

func (h *Handler) requestCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.Timeout)
}

func callerID(c *gin.Context) string {
	return c.GetString("user_id")
}

type initUploadRequest struct {
	FileName     string `json:"fileName" binding:"required"`
	FileSize     int64  `json:"fileSize" binding:"required"`
	RelativePath string `json:"relativePath"`
	ChunkSize    int64  `json:"chunkSize"`
	Mode         string `json:"mode"`
}

func (h *Handler) initUpload(c *gin.Context) {
	var req initUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": upload.CodeInvalidRequest, "message": err.Error()})
		return
	}

	ctx, cancel := h.requestCtx(c)
	defer cancel()

	result, err := h.Manager.InitUpload(ctx, upload.InitParams{
		UserID:       callerID(c),
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		RelativePath: req.RelativePath,
		ChunkSize:    req.ChunkSize,
		Mode:         upload.Mode(req.Mode),
	})
	if err != nil {
		writeUploadError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// readPayload pulls the binary unit body, bounded by the transport ceiling.
// Oversized payloads are rejected before any disk I/O.
func (h *Handler) readPayload(c *gin.Context) ([]byte, bool) {
	limit := h.Manager.Receiver().MaxPayload()
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    upload.CodePayloadTooLarge,
			"message": "payload exceeds chunk size limit",
		})
		return nil, false
	}
	return data, true
}

func (h *Handler) acceptChunk(c *gin.Context) {
	index, err := strconv.ParseInt(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": upload.CodeInvalidRequest, "message": "invalid chunk index"})
		return
	}
	data, ok := h.readPayload(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestCtx(c)
	defer cancel()

	result, err := h.Manager.AcceptChunk(ctx, c.Param("id"), callerID(c), index, data)
	if err != nil {
		writeUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accepted":  result.Accepted,
		"progress":  result.Progress,
		"completed": result.Completed,
	})
}

func (h *Handler) acceptSegment(c *gin.Context) {
	offset, err := strconv.ParseInt(c.GetHeader("Upload-Offset"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": upload.CodeInvalidRequest, "message": "missing or invalid Upload-Offset header"})
		return
	}
	data, ok := h.readPayload(c)
	if !ok {
		return
	}

	ctx, cancel := h.requestCtx(c)
	defer cancel()

	started := time.Now()
	result, err := h.Manager.AcceptStreamSegment(ctx, c.Param("id"), callerID(c), offset, data)
	if err != nil {
		writeUploadError(c, err)
		return
	}

	throughput := 0.0
	if elapsed := time.Since(started).Seconds(); elapsed > 0 {
		throughput = float64(len(data)) / elapsed
	}
	c.Header("Upload-Offset", strconv.FormatInt(result.Received, 10))
	c.JSON(http.StatusOK, gin.H{
		"received":   result.Received,
		"completed":  result.Completed,
		"throughput": throughput,
	})
}

func (h *Handler) status(c *gin.Context) {
	ctx, cancel := h.requestCtx(c)
	defer cancel()

	result, err := h.Manager.Status(ctx, c.Param("id"), callerID(c))
	if err != nil {
		writeUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listActive(c *gin.Context) {
	ctx, cancel := h.requestCtx(c)
	defer cancel()

	results, err := h.Manager.ListActive(ctx, callerID(c))
	if err != nil {
		writeUploadError(c, err)
		return
	}
	if results == nil {
		results = []*upload.StatusResult{}
	}
	c.JSON(http.StatusOK, gin.H{"uploads": results, "count": len(results)})
}

func (h *Handler) pause(c *gin.Context) {
	h.simpleTransition(c, h.Manager.Pause)
}

func (h *Handler) resume(c *gin.Context) {
	h.simpleTransition(c, h.Manager.Resume)
}

func (h *Handler) cancel(c *gin.Context) {
	h.simpleTransition(c, h.Manager.Cancel)
}

func (h *Handler) simpleTransition(c *gin.Context, op func(context.Context, string, string) error) {
	ctx, cancel := h.requestCtx(c)
	defer cancel()

	if err := op(ctx, c.Param("id"), callerID(c)); err != nil {
		writeUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) cleanup(c *gin.Context) {
	ctx, cancel := h.requestCtx(c)
	defer cancel()

	cleaned, err := h.Reaper.Sweep(ctx)
	if err != nil {
		writeUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleaned": cleaned})
}

package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// downloadHandler serves a completed artifact from the caller's root. The
// requested path is confined to that root before touching disk.
func downloadHandler(userRoot string) gin.HandlerFunc {
	return func(c *gin.Context) {
		root := filepath.Join(userRoot, callerID(c))
		rel := filepath.Clean("/" + c.Param("path"))
		path := filepath.Join(root, rel)

		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "path escapes user root"})
			return
		}

		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot access file"})
			}
			return
		}
		if info.IsDir() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a file"})
			return
		}

		c.FileAttachment(path, filepath.Base(path))
	}
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paramdnoid/weppixpress-sub004/internal/db"
	"github.com/paramdnoid/weppixpress-sub004/internal/middleware"
)

type RegisterUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

func SetupUserRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	users.Use(middleware.RateLimiter(db.RDB, 1, time.Minute, middleware.IPRateLimit{}))
	{
		users.POST("/register", registerUserHandler)
	}
}

func registerUserHandler(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	user, err := db.CreateUser(req.Name, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User registered successfully",
		"api_key": user.APIKey,
	})
}

func listFilesHandler(c *gin.Context) {
	records, err := db.ListFilesByUser(callerID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}

	files := make([]gin.H, 0, len(records))
	for _, rec := range records {
		files = append(files, gin.H{
			"id":         rec.ID,
			"name":       rec.Name,
			"path":       rec.Path,
			"size":       rec.Size,
			"created_at": rec.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "count": len(files)})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func Health(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": service})
	}
}

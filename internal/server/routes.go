// Package server wires HTTP handlers into a gin engine for the chatline
// application via routing helpers.
package server

import "github.com/gin-gonic/gin"

// SetupRoutes configures and returns a gin engine with all application routes.
func SetupRoutes(a *API) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.logger))

	r.GET("/", HealthHandler)
	r.GET("/ws", a.WebSocketHandler)

	api := r.Group("/api")
	api.GET("/status", StatusHandler)

	msgs := api.Group("/messages", requireAuth(a.auth))
	msgs.GET("/users", a.Users)
	msgs.GET("/:id", a.History)
	msgs.POST("/send/:id", a.Send)
	msgs.PUT("/mark/:id", a.MarkSeen)

	return r
}

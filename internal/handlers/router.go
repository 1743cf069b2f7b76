package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mossy-p/roulette-signaling/internal/middleware"
)

// RouterConfig holds what NewRouter wires into routes
type RouterConfig struct {
	AllowedOrigins Origins
	JWTSecret      string
	Signaling      *SignalingHandler
	Friends        *FriendsHandler
	Status         *StatusHandler
}

// NewRouter builds the HTTP surface of the signaling server.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/status", cfg.Status.Status)

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret))

		// Friendships (requires JWT)
		apiGroup.POST("/friends", middleware.JWTAuth(cfg.JWTSecret), cfg.Friends.AddFriend)
		apiGroup.GET("/friends", middleware.JWTAuth(cfg.JWTSecret), cfg.Friends.ListFriends)
	}

	// WebSocket signaling endpoint, anonymous unless a token is given
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", middleware.OptionalJWTAuth(cfg.JWTSecret), cfg.Signaling.HandleSignaling)
	}

	return router
}

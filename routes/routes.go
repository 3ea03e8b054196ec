package routes

import (
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crypto_indicators_backend/cache"
	"crypto_indicators_backend/config"
	"crypto_indicators_backend/controllers"
	"crypto_indicators_backend/middleware"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, redis *goredis.Client, cfg *config.Config, logger *logrus.Logger) {
	respCache := cache.NewResponseCache(redis, cfg.MMSCacheTTL)

	// Initialize controllers
	indicatorController := controllers.NewIndicatorController(db, respCache, logger)
	ticketController := controllers.NewTicketController(db, logger)
	authController := controllers.NewAuthController(db, cfg.JWTSecret)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Indicator routes
		indicators := api.Group("/indicators")
		{
			indicators.GET("/:pair/mms", indicatorController.GetSimpleMovingAverage)
		}

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
		}

		// Ticket routes: reads are open, mutations need a token
		tickets := api.Group("/tickets")
		{
			tickets.GET("", ticketController.GetTickets)
			tickets.GET("/:id", ticketController.GetTicket)

			protected := tickets.Group("")
			protected.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
			{
				protected.POST("", ticketController.CreateTicket)
				protected.PUT("/:id", ticketController.UpdateTicket)
				protected.DELETE("/:id", ticketController.DeleteTicket)
				protected.POST("/:id/validate", ticketController.ValidateTicket)
			}
		}
	}
}

package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts every endpoint on r.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	health := r.Group("/health")
	health.GET("/live", s.GetLiveness)
	health.GET("/ready", s.GetReadiness)

	api := r.Group("/api")
	api.GET("/overview", s.GetOverview)

	orders := api.Group("/orders")
	orders.POST("", s.CreateOrder)
	orders.GET("", s.ListOrders)
	orders.GET("/:id", s.GetOrder)
	orders.POST("/:id/items", s.AddOrderItem)
	orders.POST("/:id/submit", s.SubmitOrder)
	orders.POST("/:id/deliver", s.DeliverOrder)
	orders.POST("/:id/complete", s.CompleteOrder)
	orders.POST("/:id/items/:productId/correct-name", s.CorrectOrderItemName)

	payments := api.Group("/payments")
	payments.POST("", s.CreatePayment)
	payments.GET("", s.ListPayments)
	payments.GET("/:id", s.GetPayment)
	payments.POST("/:id/process", s.ProcessPayment)
	payments.POST("/:id/fail", s.FailPayment)
	payments.POST("/:id/refund", s.RefundPayment)
	payments.POST("/:id/reset", s.ResetPayment)

	products := api.Group("/products")
	products.POST("", s.CreateProduct)
	products.GET("", s.ListProducts)
	products.GET("/:id", s.GetProduct)
	products.PUT("/:id", s.UpdateProduct)
	products.DELETE("/:id", s.DeleteProduct)

	admin := r.Group("/admin")
	admin.GET("/deadletters/:group", s.ListDeadLetters)
	admin.POST("/deadletters/:group/process", s.ProcessDeadLetters)
	admin.POST("/deadletters/trigger", s.TriggerAllDeadLetters)
	admin.POST("/deadletters/trigger/:group", s.TriggerDeadLetter)
	admin.GET("/processors", s.ListProcessors)
	admin.POST("/processors/:group/replay", s.ReplayProcessor)
	admin.POST("/generate/batch", s.GenerateBatch)
	admin.POST("/generate/legacy-products", s.GenerateLegacyProducts)
	admin.POST("/generate/demonstrate-upcaster", s.DemonstrateUpcaster)
}

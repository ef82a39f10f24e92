package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/service"
)

type productRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Price       domain.Money `json:"price"`
	SKU         string       `json:"sku"`
}

func (r productRequest) input() service.ProductInput {
	return service.ProductInput{
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		SKU:         r.SKU,
	}
}

// CreateProduct handles POST /api/products.
func (s *Server) CreateProduct(c *gin.Context) {
	var req productRequest
	if !bindJSON(c, &req) {
		return
	}
	product, err := s.products.CreateProduct(c.Request.Context(), req.input())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

// UpdateProduct handles PUT /api/products/:id.
func (s *Server) UpdateProduct(c *gin.Context) {
	var req productRequest
	if !bindJSON(c, &req) {
		return
	}
	product, err := s.products.UpdateProduct(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// DeleteProduct handles DELETE /api/products/:id.
func (s *Server) DeleteProduct(c *gin.Context) {
	product, err := s.products.DeleteProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// GetProduct handles GET /api/products/:id.
func (s *Server) GetProduct(c *gin.Context) {
	view, err := s.queries.Product(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListProducts handles GET /api/products.
func (s *Server) ListProducts(c *gin.Context) {
	includeInactive := false
	if raw := c.Query("includeInactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, err, "includeInactive must be a boolean")
			return
		}
		includeInactive = v
	}
	views, err := s.queries.Products(c.Request.Context(), includeInactive)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(views))
}

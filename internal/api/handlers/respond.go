package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
	"coffeeshop.io/coffeeshop/internal/projection"
	"coffeeshop.io/coffeeshop/internal/service"
)

// listResponse wraps every collection response.
type listResponse[T any] struct {
	Items []T `json:"items"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items}
}

// fail hands err to the error middleware. Lookup failures of processing
// groups become 404s; everything else keeps its own AppError or ends up a 500.
func fail(c *gin.Context, err error) {
	if errors.Is(err, projection.ErrUnknownGroup) || errors.Is(err, service.ErrUnknownTrigger) {
		err = apperrors.UnknownGroup(c.Param("group"), err)
	}
	_ = c.Error(err)
}

func badRequest(c *gin.Context, err error, message string) {
	_ = c.Error(apperrors.Wrap(err, apperrors.CodeBadRequest, message, http.StatusBadRequest))
}

// bindJSON decodes the request body into req, reporting a 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err, "invalid request body")
		return false
	}
	return true
}

// intQuery parses a non-negative integer query parameter, or returns def
// when it is absent.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, err, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

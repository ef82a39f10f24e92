package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coffeeshop.io/coffeeshop/internal/deadletter"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/service"
)

// defaultProcessCount is how many sequences a manual redrive tries when the
// request does not say.
const defaultProcessCount = 10

type deadLetterList struct {
	ProcessingGroup string                `json:"processingGroup"`
	Size            int                   `json:"size"`
	Sequences       []deadletter.Sequence `json:"sequences"`
	Letters         []deadletter.Letter   `json:"letters"`
}

type processResponse struct {
	ProcessingGroup string `json:"processingGroup"`
	deadletter.Report
}

// ListDeadLetters handles GET /admin/deadletters/:group.
func (s *Server) ListDeadLetters(c *gin.Context) {
	group := c.Param("group")
	if _, err := s.registry.Get(group); err != nil {
		fail(c, err)
		return
	}
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	queue := s.sequencer.Queue()
	size, err := queue.Size(ctx, group)
	if err != nil {
		fail(c, err)
		return
	}
	seqs, err := queue.Sequences(ctx, group)
	if err != nil {
		fail(c, err)
		return
	}
	letters, err := queue.List(ctx, group, limit)
	if err != nil {
		fail(c, err)
		return
	}
	if seqs == nil {
		seqs = []deadletter.Sequence{}
	}
	if letters == nil {
		letters = []deadletter.Letter{}
	}
	c.JSON(http.StatusOK, deadLetterList{
		ProcessingGroup: group,
		Size:            size,
		Sequences:       seqs,
		Letters:         letters,
	})
}

// ProcessDeadLetters handles POST /admin/deadletters/:group/process?count=N.
func (s *Server) ProcessDeadLetters(c *gin.Context) {
	group := c.Param("group")
	if _, err := s.registry.Get(group); err != nil {
		fail(c, err)
		return
	}
	count, ok := intQuery(c, "count", defaultProcessCount)
	if !ok {
		return
	}
	if count == 0 {
		count = defaultProcessCount
	}

	report, err := s.sequencer.ProcessManually(c.Request.Context(), group, count)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, processResponse{ProcessingGroup: group, Report: report})
}

// TriggerDeadLetter handles POST /admin/deadletters/trigger/:group.
func (s *Server) TriggerDeadLetter(c *gin.Context) {
	t, err := s.triggers.Trigger(c.Request.Context(), c.Param("group"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, t)
}

// TriggerAllDeadLetters handles POST /admin/deadletters/trigger.
func (s *Server) TriggerAllDeadLetters(c *gin.Context) {
	triggers, err := s.triggers.TriggerAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, list(triggers))
}

// ListProcessors handles GET /admin/processors.
func (s *Server) ListProcessors(c *gin.Context) {
	statuses, err := s.registry.Statuses(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(statuses))
}

// ReplayProcessor handles POST /admin/processors/:group/replay.
func (s *Server) ReplayProcessor(c *gin.Context) {
	group := c.Param("group")
	token, err := s.registry.Reset(c.Request.Context(), group)
	if err != nil {
		fail(c, err)
		return
	}
	logger.Info("Processor replay requested",
		logger.ProcessingGroup(group),
		zap.Int64("replay_until", token.ReplayUntil),
	)
	c.JSON(http.StatusAccepted, token)
}

type generateBatchRequest struct {
	Products           int    `json:"productCount"`
	Orders             int    `json:"orderCount"`
	TriggerSnapshots   bool   `json:"triggerSnapshots"`
	TriggerDeadLetters bool   `json:"triggerDeadLetters"`
	Seed               uint64 `json:"seed"`
}

// GenerateBatch handles POST /admin/generate/batch. An empty body generates
// 10 products and 50 orders.
func (s *Server) GenerateBatch(c *gin.Context) {
	req := generateBatchRequest{Products: 10, Orders: 50}
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	summary, err := s.generator.Generate(c.Request.Context(), service.BatchOptions{
		Products:           req.Products,
		Orders:             req.Orders,
		TriggerSnapshots:   req.TriggerSnapshots,
		TriggerDeadLetters: req.TriggerDeadLetters,
		Seed:               req.Seed,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, summary)
}

// defaultLegacyProducts is how many legacy products one request appends
// when the body does not say.
const defaultLegacyProducts = 5

type legacyProductsRequest struct {
	Count int `json:"count"`
}

type legacyProductsResponse struct {
	ProductIDs []string `json:"productIds"`
}

// GenerateLegacyProducts handles POST /admin/generate/legacy-products.
func (s *Server) GenerateLegacyProducts(c *gin.Context) {
	req := legacyProductsRequest{Count: defaultLegacyProducts}
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	if req.Count <= 0 {
		badRequest(c, nil, "count must be positive")
		return
	}
	ids, err := s.generator.GenerateLegacyProducts(c.Request.Context(), req.Count)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, legacyProductsResponse{ProductIDs: ids})
}

// DemonstrateUpcaster handles POST /admin/generate/demonstrate-upcaster?productId=ID.
func (s *Server) DemonstrateUpcaster(c *gin.Context) {
	demo, err := s.generator.DemonstrateUpcaster(c.Request.Context(), c.Query("productId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, demo)
}

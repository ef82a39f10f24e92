package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"coffeeshop.io/coffeeshop/internal/aggregate"
	"coffeeshop.io/coffeeshop/internal/api/middleware"
	"coffeeshop.io/coffeeshop/internal/deadletter"
	"coffeeshop.io/coffeeshop/internal/domain"
	"coffeeshop.io/coffeeshop/internal/eventstore"
	"coffeeshop.io/coffeeshop/internal/idempotency"
	apperrors "coffeeshop.io/coffeeshop/internal/pkg/errors"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
	"coffeeshop.io/coffeeshop/internal/pkg/worker"
	"coffeeshop.io/coffeeshop/internal/projection"
	"coffeeshop.io/coffeeshop/internal/service"
	"coffeeshop.io/coffeeshop/internal/storage"
	"coffeeshop.io/coffeeshop/internal/upcast"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

type testAPI struct {
	router   *gin.Engine
	registry *projection.Registry
	store    *eventstore.MemoryStore
	db       *fakePinger
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

func newTestAPI(t *testing.T, faults bool) *testAPI {
	t.Helper()
	serializer, err := eventstore.NewSerializer(domain.Descriptors(), upcast.DefaultChain(upcast.NewSkuLookup(nil)))
	if err != nil {
		t.Fatalf("serializer: %v", err)
	}
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{ProjectionPoolSize: 4, SnapshotPoolSize: 1})
	if err != nil {
		t.Fatalf("pools: %v", err)
	}
	t.Cleanup(pools.Shutdown)

	store := eventstore.NewMemoryStore()
	tx := storage.NewMemoryTransactor()
	views := projection.NewViews(storage.NewMemoryDocuments())
	sequencer := deadletter.NewSequencer(deadletter.NewMemoryQueue(), deadletter.DefaultRetryPolicy())
	registry := projection.NewRegistry(projection.Deps{
		Store:      store,
		Serializer: serializer,
		Guard:      idempotency.NewGuard(idempotency.NewMemoryRecords(), tx),
		Tokens:     projection.NewMemoryTokens(),
		Tx:         tx,
		Sequencer:  sequencer,
		Pools:      pools,
	}, projection.DefaultOptions(), projection.DefaultProjections(views, projection.Faults{Enabled: faults})...)

	orders := service.NewOrderService(aggregate.NewEngine(aggregate.OrderDefinition(0), store, store, serializer))
	payments := service.NewPaymentService(aggregate.NewEngine(aggregate.PaymentDefinition(0), store, store, serializer))
	products := service.NewProductService(aggregate.NewEngine(aggregate.ProductDefinition(0), store, store, serializer))

	db := &fakePinger{}
	srv := NewServer(ServerDeps{
		Orders:    orders,
		Payments:  payments,
		Products:  products,
		Triggers:  service.NewDeadLetterTriggers(orders, payments, products),
		Generator: service.NewGenerator(orders, payments, products, aggregate.DefaultThresholds(), service.EventLog{Store: store}),
		Queries:   projection.NewQueries(views),
		Registry:  registry,
		Sequencer: sequencer,
		DB:        db,
	})

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.ErrorHandler())
	srv.RegisterRoutes(router)
	return &testAPI{router: router, registry: registry, store: store, db: db}
}

func (a *testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if strings.TrimSpace(body) == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) catchUp(t *testing.T) {
	t.Helper()
	if err := a.registry.CatchUp(context.Background()); err != nil {
		t.Fatalf("catch up: %v", err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d body=%s", w.Code, want, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v body=%s", err, w.Body.String())
	}
	return v
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, w, status)
	body := decode[map[string]any](t, w)
	if body["code"] != code {
		t.Fatalf("code = %v, want %s", body["code"], code)
	}
}

func TestOrders_CommandThenQuery(t *testing.T) {
	api := newTestAPI(t, false)

	w := api.do(t, http.MethodPost, "/api/orders", `{"customerId":"C1"}`)
	expectStatus(t, w, http.StatusCreated)
	order := decode[domain.Order](t, w)
	if order.ID == "" || order.Status != domain.OrderStatusNew {
		t.Fatalf("created order = %+v", order)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatal("response has no request id")
	}

	w = api.do(t, http.MethodPost, "/api/orders/"+order.ID+"/items",
		`{"productId":"P1","productName":"Latte","quantity":2,"price":{"amount":"4.00","currency":"USD"}}`)
	expectStatus(t, w, http.StatusOK)

	w = api.do(t, http.MethodPost, "/api/orders/"+order.ID+"/submit", "")
	expectStatus(t, w, http.StatusOK)
	submitted := decode[domain.Order](t, w)
	if submitted.TotalAmount == nil || submitted.TotalAmount.String() != "8.66 USD" {
		t.Fatalf("total = %v, want 8.66 USD", submitted.TotalAmount)
	}

	api.catchUp(t)

	w = api.do(t, http.MethodGet, "/api/orders/"+order.ID, "")
	expectStatus(t, w, http.StatusOK)
	view := decode[projection.OrderView](t, w)
	if view.Status != string(domain.OrderStatusSubmitted) || len(view.Items) != 1 {
		t.Fatalf("order view = %+v", view)
	}

	w = api.do(t, http.MethodGet, "/api/orders?customerId=C1", "")
	expectStatus(t, w, http.StatusOK)
	if got := decode[listResponse[projection.OrderView]](t, w); len(got.Items) != 1 {
		t.Fatalf("orders by customer = %d, want 1", len(got.Items))
	}

	w = api.do(t, http.MethodGet, "/api/orders?status=new", "")
	expectStatus(t, w, http.StatusOK)
	if got := decode[listResponse[projection.OrderView]](t, w); len(got.Items) != 0 {
		t.Fatalf("new orders = %d, want 0", len(got.Items))
	}
}

func TestOrders_Errors(t *testing.T) {
	api := newTestAPI(t, false)

	w := api.do(t, http.MethodPost, "/api/orders/missing/submit", "")
	expectCode(t, w, http.StatusNotFound, apperrors.CodeAggregateNotFound)

	w = api.do(t, http.MethodPost, "/api/orders", `{"customerId":`)
	expectCode(t, w, http.StatusBadRequest, apperrors.CodeBadRequest)

	w = api.do(t, http.MethodPost, "/api/orders", `{"customerId":"C1"}`)
	order := decode[domain.Order](t, w)
	w = api.do(t, http.MethodPost, "/api/orders/"+order.ID+"/deliver", "")
	expectCode(t, w, http.StatusConflict, apperrors.CodeInvalidStateTransition)

	w = api.do(t, http.MethodGet, "/api/orders/never-projected", "")
	expectCode(t, w, http.StatusNotFound, apperrors.CodeNotFound)

	w = api.do(t, http.MethodGet, "/api/orders?limit=-1", "")
	expectCode(t, w, http.StatusBadRequest, apperrors.CodeBadRequest)
}

func TestPayments_Lifecycle(t *testing.T) {
	api := newTestAPI(t, false)

	w := api.do(t, http.MethodPost, "/api/payments", `{"orderId":"O1","amount":12.5}`)
	expectStatus(t, w, http.StatusCreated)
	payment := decode[domain.Payment](t, w)

	expectStatus(t, api.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/process", ""), http.StatusOK)
	expectCode(t, api.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/fail", `{"reason":"late"}`),
		http.StatusConflict, apperrors.CodeInvalidStateTransition)
	expectStatus(t, api.do(t, http.MethodPost, "/api/payments/"+payment.ID+"/refund", ""), http.StatusOK)

	api.catchUp(t)

	w = api.do(t, http.MethodGet, "/api/payments?orderId=O1", "")
	expectStatus(t, w, http.StatusOK)
	got := decode[listResponse[projection.PaymentView]](t, w)
	if len(got.Items) != 1 || got.Items[0].Status != string(domain.PaymentStatusRefunded) {
		t.Fatalf("payments = %+v", got.Items)
	}
	if got.Items[0].Amount.String() != "12.50 USD" {
		t.Fatalf("amount = %s, want 12.50 USD", got.Items[0].Amount)
	}
}

func TestProducts_IncludeInactive(t *testing.T) {
	api := newTestAPI(t, false)

	w := api.do(t, http.MethodPost, "/api/products", `{"name":"Mocha","description":"rich","price":"4.25"}`)
	expectStatus(t, w, http.StatusCreated)
	mocha := decode[domain.Product](t, w)
	if mocha.SKU != "MOC-LEGACY" {
		t.Fatalf("sku = %q, want MOC-LEGACY", mocha.SKU)
	}
	w = api.do(t, http.MethodPost, "/api/products", `{"name":"Tea","price":"2.00","sku":"TEA-001"}`)
	expectStatus(t, w, http.StatusCreated)

	expectStatus(t, api.do(t, http.MethodPut, "/api/products/"+mocha.ID,
		`{"name":"Mocha","description":"richer","price":"4.50"}`), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodDelete, "/api/products/"+mocha.ID, ""), http.StatusOK)
	expectCode(t, api.do(t, http.MethodDelete, "/api/products/"+mocha.ID, ""),
		http.StatusConflict, apperrors.CodeInvalidStateTransition)

	api.catchUp(t)

	w = api.do(t, http.MethodGet, "/api/products", "")
	expectStatus(t, w, http.StatusOK)
	if got := decode[listResponse[projection.ProductView]](t, w); len(got.Items) != 1 || got.Items[0].SKU != "TEA-001" {
		t.Fatalf("active products = %+v", got.Items)
	}

	w = api.do(t, http.MethodGet, "/api/products?includeInactive=true", "")
	expectStatus(t, w, http.StatusOK)
	if got := decode[listResponse[projection.ProductView]](t, w); len(got.Items) != 2 {
		t.Fatalf("all products = %d, want 2", len(got.Items))
	}

	expectCode(t, api.do(t, http.MethodGet, "/api/products?includeInactive=maybe", ""),
		http.StatusBadRequest, apperrors.CodeBadRequest)
}

func TestAdmin_DeadLetterTriggerAndProcess(t *testing.T) {
	api := newTestAPI(t, true)

	w := api.do(t, http.MethodPost, "/admin/deadletters/trigger/product", "")
	expectStatus(t, w, http.StatusAccepted)
	trigger := decode[service.Trigger](t, w)

	api.catchUp(t)

	w = api.do(t, http.MethodGet, "/admin/deadletters/product", "")
	expectStatus(t, w, http.StatusOK)
	listed := decode[deadLetterList](t, w)
	if listed.Size != 1 || len(listed.Letters) != 1 {
		t.Fatalf("dead letters = %+v", listed)
	}
	if listed.Letters[0].SequenceKey != trigger.AggregateID {
		t.Fatalf("sequence key = %s, want %s", listed.Letters[0].SequenceKey, trigger.AggregateID)
	}

	// Faults are still on, so the redrive fails again.
	w = api.do(t, http.MethodPost, "/admin/deadletters/product/process?count=5", "")
	expectStatus(t, w, http.StatusOK)
	report := decode[processResponse](t, w)
	if report.Failed != 1 || report.Processed != 0 {
		t.Fatalf("report = %+v", report)
	}

	w = api.do(t, http.MethodGet, "/admin/deadletters/inventory", "")
	expectCode(t, w, http.StatusNotFound, apperrors.CodeUnknownGroup)
	w = api.do(t, http.MethodPost, "/admin/deadletters/trigger/inventory", "")
	expectCode(t, w, http.StatusNotFound, apperrors.CodeUnknownGroup)
}

func TestAdmin_TriggerAll(t *testing.T) {
	api := newTestAPI(t, true)

	w := api.do(t, http.MethodPost, "/admin/deadletters/trigger", "")
	expectStatus(t, w, http.StatusAccepted)
	if got := decode[listResponse[service.Trigger]](t, w); len(got.Items) != 3 {
		t.Fatalf("triggers = %d, want 3", len(got.Items))
	}

	api.catchUp(t)
	for _, group := range projection.Groups() {
		w := api.do(t, http.MethodGet, "/admin/deadletters/"+group, "")
		expectStatus(t, w, http.StatusOK)
		if got := decode[deadLetterList](t, w); got.Size != 1 {
			t.Fatalf("%s dead letters = %d, want 1", group, got.Size)
		}
	}
}

func TestAdmin_ReplayProcessor(t *testing.T) {
	api := newTestAPI(t, false)
	expectStatus(t, api.do(t, http.MethodPost, "/api/orders", `{"customerId":"C1"}`), http.StatusCreated)
	expectStatus(t, api.do(t, http.MethodPost, "/api/orders", `{"customerId":"C2"}`), http.StatusCreated)
	api.catchUp(t)

	w := api.do(t, http.MethodPost, "/admin/processors/order/replay", "")
	expectStatus(t, w, http.StatusAccepted)
	token := decode[projection.Token](t, w)
	if token.Position != 0 || token.ReplayUntil != 2 {
		t.Fatalf("token = %+v, want position 0 replayUntil 2", token)
	}

	w = api.do(t, http.MethodGet, "/admin/processors", "")
	expectStatus(t, w, http.StatusOK)
	statuses := decode[listResponse[projection.Status]](t, w)
	if len(statuses.Items) != 3 || !statuses.Items[0].Replaying {
		t.Fatalf("statuses = %+v", statuses.Items)
	}

	expectCode(t, api.do(t, http.MethodPost, "/admin/processors/inventory/replay", ""),
		http.StatusNotFound, apperrors.CodeUnknownGroup)
}

func TestAdmin_GenerateBatch(t *testing.T) {
	api := newTestAPI(t, false)

	w := api.do(t, http.MethodPost, "/admin/generate/batch", `{"productCount":2,"orderCount":3,"seed":9}`)
	expectStatus(t, w, http.StatusCreated)
	summary := decode[service.BatchSummary](t, w)
	if summary.Products != 2 || summary.Orders != 3 || summary.Payments != 3 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, false)

	expectStatus(t, api.do(t, http.MethodGet, "/health/live", ""), http.StatusOK)

	// Processors were never started.
	w := api.do(t, http.MethodGet, "/health/ready", "")
	expectStatus(t, w, http.StatusServiceUnavailable)
	health := decode[healthResponse](t, w)
	if health.Checks["processor:order"] != "stopped" || health.Checks["database"] != "ok" {
		t.Fatalf("checks = %v", health.Checks)
	}

	if err := api.registry.Start(); err != nil {
		t.Fatalf("start processors: %v", err)
	}
	expectStatus(t, api.do(t, http.MethodGet, "/health/ready", ""), http.StatusOK)

	api.db.err = errors.New("connection refused")
	w = api.do(t, http.MethodGet, "/health/ready", "")
	expectStatus(t, w, http.StatusServiceUnavailable)
	if got := decode[healthResponse](t, w); got.Checks["database"] != "error" {
		t.Fatalf("database check = %q, want error", got.Checks["database"])
	}
}

func TestGenerator_LegacyProductsAndUpcasterDemonstration(t *testing.T) {
	api := newTestAPI(t, false)

	expectCode(t, api.do(t, http.MethodPost, "/admin/generate/demonstrate-upcaster", ""),
		http.StatusNotFound, apperrors.CodeLegacyProductNotFound)
	expectCode(t, api.do(t, http.MethodPost, "/admin/generate/legacy-products", `{"count":0}`),
		http.StatusBadRequest, apperrors.CodeBadRequest)

	w := api.do(t, http.MethodPost, "/admin/generate/legacy-products", `{"count":2}`)
	expectStatus(t, w, http.StatusCreated)
	created := decode[legacyProductsResponse](t, w)
	if len(created.ProductIDs) != 2 {
		t.Fatalf("legacy ids = %v, want 2", created.ProductIDs)
	}

	api.catchUp(t)

	// the projection already sees the upcast shape of the stored record
	w = api.do(t, http.MethodGet, "/api/products/"+created.ProductIDs[0], "")
	expectStatus(t, w, http.StatusOK)
	view := decode[projection.ProductView](t, w)
	if view.SKU != "ESP-LEGACY" || view.Price.String() != "4.00 USD" {
		t.Fatalf("legacy product view = %+v", view)
	}

	w = api.do(t, http.MethodPost, "/admin/generate/demonstrate-upcaster?productId="+created.ProductIDs[1], "")
	expectStatus(t, w, http.StatusOK)
	demo := decode[service.UpcastDemonstration](t, w)
	if demo.StoredRevision != "1" || demo.SKU != "CAP-LEGACY" || demo.Version != 2 {
		t.Fatalf("demonstration = %+v", demo)
	}
	if strings.Contains(string(demo.StoredPayload), `"sku"`) {
		t.Fatalf("stored payload carries a sku: %s", demo.StoredPayload)
	}

	api.catchUp(t)

	w = api.do(t, http.MethodGet, "/api/products/"+created.ProductIDs[1], "")
	expectStatus(t, w, http.StatusOK)
	view = decode[projection.ProductView](t, w)
	if view.SKU != "CAP-LEGACY" || view.Price.String() != "5.00 USD" {
		t.Fatalf("demonstrated product view = %+v", view)
	}
}

func TestOverview_SumsProcessedPayments(t *testing.T) {
	api := newTestAPI(t, false)

	w := api.do(t, http.MethodGet, "/api/overview", "")
	expectStatus(t, w, http.StatusOK)
	empty := decode[projection.Overview](t, w)
	if empty.PaymentCount != 0 || empty.TotalSales.String() != "0.00 USD" || empty.Products == nil {
		t.Fatalf("empty overview = %+v", empty)
	}

	expectStatus(t, api.do(t, http.MethodPost, "/api/products", `{"name":"Mocha","price":"4.25"}`), http.StatusCreated)
	expectStatus(t, api.do(t, http.MethodPost, "/api/orders", `{"customerId":"C1"}`), http.StatusCreated)

	pay := func(amount string) string {
		w := api.do(t, http.MethodPost, "/api/payments", `{"orderId":"O1","amount":`+amount+`}`)
		expectStatus(t, w, http.StatusCreated)
		return decode[domain.Payment](t, w).ID
	}
	processed := pay("10.25")
	expectStatus(t, api.do(t, http.MethodPost, "/api/payments/"+processed+"/process", ""), http.StatusOK)
	other := pay("4.50")
	expectStatus(t, api.do(t, http.MethodPost, "/api/payments/"+other+"/process", ""), http.StatusOK)
	refunded := pay("99.00")
	expectStatus(t, api.do(t, http.MethodPost, "/api/payments/"+refunded+"/process", ""), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, "/api/payments/"+refunded+"/refund", ""), http.StatusOK)
	pay("7.00")

	api.catchUp(t)

	w = api.do(t, http.MethodGet, "/api/overview", "")
	expectStatus(t, w, http.StatusOK)
	got := decode[projection.Overview](t, w)
	if got.ProductCount != 1 || got.OrderCount != 1 || got.PaymentCount != 4 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/4", got.ProductCount, got.OrderCount, got.PaymentCount)
	}
	if got.TotalSales.String() != "14.75 USD" {
		t.Fatalf("total sales = %s, want 14.75 USD", got.TotalSales)
	}
	if len(got.Products) != 1 || len(got.Orders) != 1 || len(got.Payments) != 4 {
		t.Fatalf("lists = %d/%d/%d", len(got.Products), len(got.Orders), len(got.Payments))
	}
}

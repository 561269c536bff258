package obr_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hankstore/ebms_backend/middlewares"
	"github.com/hankstore/ebms_backend/models"
	"github.com/hankstore/ebms_backend/obr"
)

func newTestRouter(db *gorm.DB, client *stubClient) *gin.Engine {
	gin.SetMode(gin.TestMode)
	declarer := newTestDeclarer(db, client)
	queue := obr.NewQueue(db, declarer)

	r := gin.New()
	r.Use(middlewares.IdentityMiddleware())
	// nil declarer: handlers must not fire background declarations in tests.
	r.POST("/api/stock/movements", obr.ApplyMovementHandler(nil))
	r.POST("/api/invoices", obr.CreateInvoiceHandler(nil))
	r.GET("/api/invoices/:id", obr.GetInvoiceHandler())
	r.POST("/api/invoices/:id/cancel", obr.CancelInvoiceHandler())
	r.GET("/api/declarations/retriable", obr.ListRetriableHandler(queue))
	r.POST("/api/declarations/:kind/:id/retry", obr.RetryHandler(queue))
	r.POST("/api/declarations/retry-batch", obr.RetryBatchHandler(queue))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMovementEndpointCreatesAndRejects(t *testing.T) {
	db := openTestDB(t)
	client := &stubClient{responses: []*obr.Response{okResponse(`{"success":true}`)}}
	r := newTestRouter(db, client)

	w := doJSON(t, r, http.MethodPost, "/api/stock/movements",
		`{"item_code":"API-1","designation":"api item","kind":"EN","quantity":"10","unit_cost":"100","system_id":"DEV01"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("entry status = %d body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/stock/movements",
		`{"item_code":"API-1","kind":"SV","quantity":"99"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversell status = %d, want 422", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/stock/movements",
		`{"item_code":"NOPE","kind":"SN","quantity":"1"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown item status = %d, want 404", w.Code)
	}
}

func TestRetriableAndRetryEndpoints(t *testing.T) {
	db := openTestDB(t)
	movement := seedMovement(t, "API-2")

	client := &stubClient{responses: []*obr.Response{okResponse(`{"success":true,"msg":"saved"}`)}}
	r := newTestRouter(db, client)

	w := doJSON(t, r, http.MethodGet, "/api/declarations/retriable", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listing struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Count != 1 {
		t.Fatalf("count = %d, want 1", listing.Count)
	}

	w = doJSON(t, r, http.MethodPost, "/api/declarations/movement/"+strconv.Itoa(movement.ID)+"/retry", "")
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Success") {
		t.Fatalf("retry body = %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/declarations/retriable", "")
	if !strings.Contains(w.Body.String(), `"count":0`) {
		t.Fatalf("declared record still listed: %s", w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/declarations/order/1/retry", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad kind status = %d, want 400", w.Code)
	}
}

func TestRetryBatchEndpointSweepsEverythingPending(t *testing.T) {
	db := openTestDB(t)
	seedMovement(t, "API-3")
	seedMovement(t, "API-4")

	client := &stubClient{responses: []*obr.Response{okResponse(`{"success":true}`)}}
	r := newTestRouter(db, client)

	w := doJSON(t, r, http.MethodPost, "/api/declarations/retry-batch", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("batch status = %d body %s", w.Code, w.Body.String())
	}
	var summary obr.RetrySummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Success != 2 {
		t.Fatalf("summary = %+v, want 2 successes", summary)
	}
}

func TestInvoiceEndpointDefaultsIdentityFromHeaders(t *testing.T) {
	db := openTestDB(t)
	client := &stubClient{responses: []*obr.Response{okResponse(`{"success":true}`)}}
	r := newTestRouter(db, client)

	w := doJSON(t, r, http.MethodPost, "/api/stock/movements",
		`{"item_code":"HDR-1","designation":"header item","kind":"EN","quantity":"5","unit_cost":"100","system_id":"DEV01"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("entry status = %d body %s", w.Code, w.Body.String())
	}

	// Body omits the issuer identity; the headers supply it.
	req := httptest.NewRequest(http.MethodPost, "/api/invoices",
		strings.NewReader(`{"lines":[{"item_code":"HDR-1","quantity":"1","unit_price":"200"}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-issuer-tin", "1000012345")
	req.Header.Set("x-system-id", "DEV01")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusCreated {
		t.Fatalf("invoice status = %d body %s", w2.Code, w2.Body.String())
	}

	var created models.Invoice
	if err := json.Unmarshal(w2.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}
	if created.IssuerTIN != "1000012345" || created.SystemId != "DEV01" {
		t.Fatalf("identity not taken from headers: tin=%q system=%q", created.IssuerTIN, created.SystemId)
	}
	if !strings.HasPrefix(created.Identifier, "1000012345/DEV01/") {
		t.Fatalf("identifier %q does not carry the header identity", created.Identifier)
	}
}

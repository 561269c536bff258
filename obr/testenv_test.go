package obr_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/models"
	"github.com/hankstore/ebms_backend/obr"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.StockItem{},
		&models.StockMovement{},
		&models.Invoice{},
		&models.InvoiceLine{},
		&models.Acknowledgment{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	config.SetDB(db)
	return db
}

// stubClient replays canned responses in order. A nil entry means a
// transport error for that call.
type stubClient struct {
	mu        sync.Mutex
	responses []*obr.Response
	calls     int
}

type stubTransportError struct{}

func (stubTransportError) Error() string { return "dial tcp: connection refused" }

func (s *stubClient) next() (*obr.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		if len(s.responses) == 0 {
			return nil, stubTransportError{}
		}
		idx = len(s.responses) - 1
	}
	resp := s.responses[idx]
	if resp == nil {
		return nil, stubTransportError{}
	}
	return resp, nil
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubClient) DeclareStockMovement(ctx context.Context, token string, payload models.StockMovementPayload) (*obr.Response, error) {
	return s.next()
}

func (s *stubClient) DeclareInvoice(ctx context.Context, token string, payload models.InvoicePayload) (*obr.Response, error) {
	return s.next()
}

func okResponse(body string) *obr.Response {
	return &obr.Response{StatusCode: 200, Success: true, Body: []byte(body)}
}

func newTestDeclarer(db *gorm.DB, client *stubClient) *obr.Declarer {
	d := obr.NewDeclarer(db, client, obr.StaticToken("test-token"), obr.NewStatusNotifier())
	d.InitialBackoff = time.Millisecond
	return d
}

func movementDate() time.Time { return time.Now() }

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedMovement(t *testing.T, code string) *models.StockMovement {
	t.Helper()
	movement, err := models.ApplyMovement(context.Background(), &models.NewStockMovement{
		ItemCode:    code,
		Designation: code + " designation",
		Kind:        models.MovementEntryNormal,
		Quantity:    mustDec("10"),
		UnitCost:    mustDec("100"),
		SystemId:    "DEV01",
	})
	if err != nil {
		t.Fatalf("seed movement %s: %v", code, err)
	}
	return movement
}

package models_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hankstore/ebms_backend/models"
)

func newInvoiceInput(lines ...models.NewInvoiceLine) *models.NewInvoice {
	return &models.NewInvoice{
		IssuerTIN:    "1000012345",
		IssuerName:   "Hank Store",
		SystemId:     "DEV01",
		CustomerName: "Client Comptant",
		Lines:        lines,
	}
}

func TestCreateInvoiceComputesTotalsAndMovements(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applyEntry(t, "ART-1", "20", "800")
	applyEntry(t, "ART-2", "10", "300")

	invoice, err := models.CreateInvoice(ctx, newInvoiceInput(
		models.NewInvoiceLine{ItemCode: "ART-1", Quantity: dec("2"), UnitPrice: dec("1000"), VatRate: dec("18")},
		models.NewInvoiceLine{ItemCode: "ART-2", Quantity: dec("1"), UnitPrice: dec("500")},
	))
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	// 2 x 1000 = 2000 excl, 360 VAT; 1 x 500 = 500 excl, no VAT.
	if !invoice.TotalAmount.Equal(dec("2860")) {
		t.Fatalf("total = %s, want 2860", invoice.TotalAmount)
	}
	if invoice.Status != models.InvoiceStatusNotSent {
		t.Fatalf("status = %s, want not_sent", invoice.Status)
	}
	if invoice.SyncStatus != models.SyncStatusPending {
		t.Fatalf("sync status = %v, want Pending", invoice.SyncStatus)
	}
	if invoice.NextAttemptAt == nil || !invoice.NextAttemptAt.After(time.Now()) {
		t.Fatalf("new invoice has no dispatcher grace deadline: %v", invoice.NextAttemptAt)
	}
	if invoice.Identifier == "" || invoice.ElectronicSignature == "" {
		t.Fatal("invoice is missing its signature")
	}
	if !strings.Contains(invoice.Identifier, "/"+invoice.InvoiceNumber) {
		t.Fatalf("identifier %q does not end with invoice number %q", invoice.Identifier, invoice.InvoiceNumber)
	}

	item, err := models.FetchItemByCode(ctx, "ART-1")
	if err != nil {
		t.Fatalf("FetchItemByCode: %v", err)
	}
	if !item.Quantity.Equal(dec("18")) {
		t.Fatalf("ART-1 quantity after sale = %s, want 18", item.Quantity)
	}

	var movements []models.StockMovement
	if err := db.Where("invoice_ref = ?", invoice.InvoiceNumber).Find(&movements).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("sale movements = %d, want 2", len(movements))
	}
	for _, m := range movements {
		if m.Kind != models.MovementExitSale {
			t.Fatalf("movement kind = %s, want SV", m.Kind)
		}
	}

	payload, ok := models.DecodeInvoicePayload(invoice.SourceJSON)
	if !ok {
		t.Fatalf("invoice snapshot does not validate: %s", invoice.SourceJSON)
	}
	if len(payload.InvoiceItems) != 2 {
		t.Fatalf("snapshot items = %d, want 2", len(payload.InvoiceItems))
	}
}

func TestInvoiceNumberSequencePerDay(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()

	applyEntry(t, "ART-3", "50", "100")

	first, err := models.CreateInvoice(ctx, newInvoiceInput(
		models.NewInvoiceLine{ItemCode: "ART-3", Quantity: dec("1"), UnitPrice: dec("150")},
	))
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	second, err := models.CreateInvoice(ctx, newInvoiceInput(
		models.NewInvoiceLine{ItemCode: "ART-3", Quantity: dec("1"), UnitPrice: dec("150")},
	))
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	prefix := "INV_" + time.Now().Format("20060102") + "_"
	if !strings.HasPrefix(first.InvoiceNumber, prefix) {
		t.Fatalf("invoice number %q lacks day prefix %q", first.InvoiceNumber, prefix)
	}
	if first.InvoiceNumber != prefix+"0001" {
		t.Fatalf("first number = %q, want %q", first.InvoiceNumber, prefix+"0001")
	}
	if second.InvoiceNumber != prefix+"0002" {
		t.Fatalf("second number = %q, want %q", second.InvoiceNumber, prefix+"0002")
	}
}

func TestCreateInvoiceInsufficientStockRollsBackEverything(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applyEntry(t, "ART-4", "5", "100")
	applyEntry(t, "ART-5", "1", "100")

	_, err := models.CreateInvoice(ctx, newInvoiceInput(
		models.NewInvoiceLine{ItemCode: "ART-4", Quantity: dec("2"), UnitPrice: dec("200")},
		models.NewInvoiceLine{ItemCode: "ART-5", Quantity: dec("3"), UnitPrice: dec("200")},
	))
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	item, err := models.FetchItemByCode(ctx, "ART-4")
	if err != nil {
		t.Fatalf("FetchItemByCode: %v", err)
	}
	if !item.Quantity.Equal(dec("5")) {
		t.Fatalf("rolled-back sale still changed ART-4 quantity: %s", item.Quantity)
	}

	var count int64
	if err := db.Model(&models.Invoice{}).Count(&count).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed invoice persisted: count = %d", count)
	}
}

func TestCancelInvoiceOnlyFromSent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	applyEntry(t, "ART-6", "10", "100")
	invoice, err := models.CreateInvoice(ctx, newInvoiceInput(
		models.NewInvoiceLine{ItemCode: "ART-6", Quantity: dec("1"), UnitPrice: dec("150")},
	))
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if err := models.CancelInvoice(ctx, invoice.ID); !errors.Is(err, models.ErrInvoiceNotCancellable) {
		t.Fatalf("cancelling a not_sent invoice: got %v", err)
	}

	if err := db.Model(&models.Invoice{}).Where("id = ?", invoice.ID).
		Update("status", models.InvoiceStatusSent).Error; err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := models.CancelInvoice(ctx, invoice.ID); err != nil {
		t.Fatalf("CancelInvoice: %v", err)
	}

	got, err := models.FetchInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("FetchInvoice: %v", err)
	}
	if got.Status != models.InvoiceStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if len(got.Lines) != 1 {
		t.Fatalf("lines preloaded = %d, want 1", len(got.Lines))
	}
}

package obr_test

import (
	"context"
	"testing"
	"time"

	"github.com/hankstore/ebms_backend/models"
	"github.com/hankstore/ebms_backend/obr"
)

func TestListRetriableExcludesClientErrorsByDefault(t *testing.T) {
	db := openTestDB(t)
	pending := seedMovement(t, "SKU-P")
	rejected := seedMovement(t, "SKU-R")

	// Declare the second one against a 403: permanent rejection.
	client := &stubClient{responses: []*obr.Response{
		{StatusCode: 403, Body: []byte(`{"success":false,"msg":"interdit"}`)},
	}}
	declarer := newTestDeclarer(db, client)
	if status, err := declarer.SubmitMovement(context.Background(), rejected.ID); err != nil || status != models.SyncStatusClientError {
		t.Fatalf("setup rejection: status=%v err=%v", status, err)
	}

	queue := obr.NewQueue(db, declarer)

	records, err := queue.ListRetriable(context.Background(), obr.Filter{})
	if err != nil {
		t.Fatalf("ListRetriable: %v", err)
	}
	if len(records) != 1 || records[0].ID != pending.ID {
		t.Fatalf("default listing = %+v, want only the pending movement", records)
	}

	records, err = queue.ListRetriable(context.Background(), obr.Filter{IncludeClientErrors: true})
	if err != nil {
		t.Fatalf("ListRetriable: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("widened listing = %d records, want 2", len(records))
	}
}

func TestListRetriableKindAndDateFilters(t *testing.T) {
	db := openTestDB(t)
	seedMovement(t, "SKU-F1")

	if _, err := models.CreateInvoice(context.Background(), &models.NewInvoice{
		IssuerTIN: "1000012345",
		SystemId:  "DEV01",
		Lines: []models.NewInvoiceLine{
			{ItemCode: "SKU-F1", Quantity: mustDec("1"), UnitPrice: mustDec("100")},
		},
	}); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	queue := obr.NewQueue(db, newTestDeclarer(db, &stubClient{}))

	records, err := queue.ListRetriable(context.Background(), obr.Filter{Kind: models.RecordKindInvoice})
	if err != nil {
		t.Fatalf("ListRetriable: %v", err)
	}
	// The invoice plus its sale movement are both pending, but the kind
	// filter must keep only the invoice.
	if len(records) != 1 || records[0].Kind != models.RecordKindInvoice {
		t.Fatalf("kind-filtered listing = %+v", records)
	}

	future := time.Now().Add(24 * time.Hour)
	records, err = queue.ListRetriable(context.Background(), obr.Filter{From: &future})
	if err != nil {
		t.Fatalf("ListRetriable: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("future window returned %d records", len(records))
	}
}

func TestRetryReopensClientError(t *testing.T) {
	db := openTestDB(t)
	movement := seedMovement(t, "SKU-REOPEN")

	if err := db.Model(&models.StockMovement{}).Where("id = ?", movement.ID).
		Update("sync_status", models.SyncStatusClientError).Error; err != nil {
		t.Fatalf("mark client error: %v", err)
	}

	client := &stubClient{responses: []*obr.Response{okResponse(`{"success":true}`)}}
	queue := obr.NewQueue(db, newTestDeclarer(db, client))

	status, err := queue.Retry(context.Background(), models.RecordKindMovement, movement.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if status != models.SyncStatusSuccess {
		t.Fatalf("status = %v, want Success", status)
	}
	if client.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", client.callCount())
	}
}

func TestRetryBatchSummaryCountsOutcomes(t *testing.T) {
	db := openTestDB(t)
	first := seedMovement(t, "SKU-B1")
	second := seedMovement(t, "SKU-B2")
	third := seedMovement(t, "SKU-B3")

	client := &stubClient{responses: []*obr.Response{
		okResponse(`{"success":true}`),
		{StatusCode: 400, Body: []byte(`{"success":false}`)},
		nil, nil, nil,
	}}
	declarer := newTestDeclarer(db, client)
	queue := obr.NewQueue(db, declarer)
	queue.Workers = 1

	summary, err := queue.RetryBatch(context.Background(), []obr.RecordRef{
		{Kind: models.RecordKindMovement, ID: first.ID},
		{Kind: models.RecordKindMovement, ID: second.ID},
		{Kind: models.RecordKindMovement, ID: third.ID},
	})
	if err != nil {
		t.Fatalf("RetryBatch: %v", err)
	}
	if summary.Success != 1 || summary.ClientError != 1 || summary.StillPending != 1 {
		t.Fatalf("summary = %+v, want 1/1/1", summary)
	}
}

func TestRetryBatchStopsOnCancelledContext(t *testing.T) {
	db := openTestDB(t)
	movement := seedMovement(t, "SKU-CTX")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &stubClient{responses: []*obr.Response{okResponse(`{"success":true}`)}}
	queue := obr.NewQueue(db, newTestDeclarer(db, client))

	refs := []obr.RecordRef{{Kind: models.RecordKindMovement, ID: movement.ID}}
	if _, err := queue.RetryBatch(ctx, refs); err == nil {
		t.Fatal("expected context error from cancelled batch")
	}
}

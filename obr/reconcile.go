package obr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/models"
)

const defaultBatchWorkers = 4

// Filter narrows which records the reconciliation queue lists. The zero
// value means: both kinds, any date, pending only.
type Filter struct {
	From *time.Time
	To   *time.Time
	// Kind restricts to one record family; empty means both.
	Kind models.RecordKind
	// IncludeClientErrors widens the listing to permanently rejected
	// records, so an operator can resubmit them after fixing the data.
	IncludeClientErrors bool
}

// RetriableRecord is one listing entry, enough for an operator to decide
// what to resubmit.
type RetriableRecord struct {
	Kind          models.RecordKind `json:"kind"`
	ID            int               `json:"id"`
	Ref           string            `json:"ref"`
	Status        models.SyncStatus `json:"status"`
	RecordDate    time.Time         `json:"record_date"`
	Attempts      int               `json:"attempts"`
	LastAttemptAt *time.Time        `json:"last_attempt_at"`
}

// RecordRef identifies one record across both families.
type RecordRef struct {
	Kind models.RecordKind `json:"kind" binding:"required"`
	ID   int               `json:"id" binding:"required"`
}

// RetrySummary counts terminal outcomes of a batch pass.
type RetrySummary struct {
	Success      int `json:"success"`
	ClientError  int `json:"client_error"`
	StillPending int `json:"still_pending"`
}

// Queue lists undeclared records and pushes them back through the declarer,
// one at a time or as a bounded-concurrency batch.
type Queue struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Declarer *Declarer
	Workers  int
}

func NewQueue(db *gorm.DB, declarer *Declarer) *Queue {
	return &Queue{
		DB:       db,
		Logger:   config.GetLogger(),
		Declarer: declarer,
		Workers:  defaultBatchWorkers,
	}
}

// ListRetriable returns the records still owed to OBR, oldest first.
func (q *Queue) ListRetriable(ctx context.Context, filter Filter) ([]RetriableRecord, error) {
	statuses := []models.SyncStatus{models.SyncStatusPending}
	if filter.IncludeClientErrors {
		statuses = append(statuses, models.SyncStatusClientError)
	}

	var out []RetriableRecord
	if filter.Kind == "" || filter.Kind == models.RecordKindMovement {
		var movements []models.StockMovement
		query := q.DB.WithContext(ctx).Where("sync_status IN ?", statuses)
		query = dateWindow(query, "movement_date", filter)
		if err := query.Order("movement_date asc, id asc").Find(&movements).Error; err != nil {
			return nil, err
		}
		for i := range movements {
			m := &movements[i]
			out = append(out, RetriableRecord{
				Kind:          models.RecordKindMovement,
				ID:            m.ID,
				Ref:           m.ItemCode,
				Status:        m.SyncStatus,
				RecordDate:    m.MovementDate,
				Attempts:      m.Attempts,
				LastAttemptAt: m.LastAttemptAt,
			})
		}
	}
	if filter.Kind == "" || filter.Kind == models.RecordKindInvoice {
		var invoices []models.Invoice
		query := q.DB.WithContext(ctx).Where("sync_status IN ?", statuses)
		query = dateWindow(query, "invoice_date", filter)
		if err := query.Order("invoice_date asc, id asc").Find(&invoices).Error; err != nil {
			return nil, err
		}
		for i := range invoices {
			inv := &invoices[i]
			out = append(out, RetriableRecord{
				Kind:          models.RecordKindInvoice,
				ID:            inv.ID,
				Ref:           inv.InvoiceNumber,
				Status:        inv.SyncStatus,
				RecordDate:    inv.InvoiceDate,
				Attempts:      inv.Attempts,
				LastAttemptAt: inv.LastAttemptAt,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordDate.Before(out[j].RecordDate)
	})
	return out, nil
}

func dateWindow(query *gorm.DB, column string, filter Filter) *gorm.DB {
	if filter.From != nil {
		query = query.Where(column+" >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where(column+" < ?", *filter.To)
	}
	return query
}

// Retry resubmits one record. A ClientError record is explicitly moved back
// to Pending first; Success is left alone.
func (q *Queue) Retry(ctx context.Context, kind models.RecordKind, id int) (models.SyncStatus, error) {
	if err := q.reopen(ctx, kind, id); err != nil {
		return 0, err
	}
	switch kind {
	case models.RecordKindMovement:
		return q.Declarer.SubmitMovement(ctx, id)
	case models.RecordKindInvoice:
		return q.Declarer.SubmitInvoice(ctx, id)
	}
	return 0, fmt.Errorf("unknown record kind %q", kind)
}

// reopen is the only write path from ClientError back to Pending. The guard
// on sync_status keeps a concurrent success untouched.
func (q *Queue) reopen(ctx context.Context, kind models.RecordKind, id int) error {
	var model interface{}
	switch kind {
	case models.RecordKindMovement:
		model = &models.StockMovement{}
	case models.RecordKindInvoice:
		model = &models.Invoice{}
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return q.DB.WithContext(ctx).Model(model).
		Where("id = ? AND sync_status = ?", id, models.SyncStatusClientError).
		Update("sync_status", models.SyncStatusPending).Error
}

// RetryBatch pushes the given records through the declarer with at most
// Workers in flight. One record's failure never aborts the rest; a
// cancelled context stops handing out new records.
func (q *Queue) RetryBatch(ctx context.Context, refs []RecordRef) (RetrySummary, error) {
	workers := q.Workers
	if workers <= 0 {
		workers = defaultBatchWorkers
	}

	var (
		mu      sync.Mutex
		summary RetrySummary
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, workers)

	for _, ref := range refs {
		if ctx.Err() != nil {
			wg.Wait()
			return summary, ctx.Err()
		}
		select {
		case <-ctx.Done():
			wg.Wait()
			return summary, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(ref RecordRef) {
			defer wg.Done()
			defer func() { <-sem }()
			status, err := q.Retry(ctx, ref.Kind, ref.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				config.LogError(q.Logger, "obr", "RetryBatch", "retry record", ref, err)
				summary.StillPending++
				return
			}
			switch status {
			case models.SyncStatusSuccess:
				summary.Success++
			case models.SyncStatusClientError:
				summary.ClientError++
			default:
				summary.StillPending++
			}
		}(ref)
	}
	wg.Wait()
	return summary, nil
}

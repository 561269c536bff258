package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/models"
	"github.com/hankstore/ebms_backend/obr"
)

// DeclarationDispatcher periodically sweeps pending declaration records and
// pushes them through the reconciliation queue. It is the automatic
// counterpart of the manual retry endpoints: records that failed their
// inline declaration (network down, OBR unreachable) get picked up here
// once their next_attempt_at backoff elapses.
//
// ClientError records are never swept; only an explicit operator retry
// reopens those.
type DeclarationDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Queue        *obr.Queue
	DispatcherID string

	BatchSize    int
	PollInterval time.Duration
}

func NewDeclarationDispatcher(db *gorm.DB, queue *obr.Queue) *DeclarationDispatcher {
	return &DeclarationDispatcher{
		DB:           db,
		Logger:       config.GetLogger(),
		Queue:        queue,
		DispatcherID: uuid.NewString(),
		BatchSize:    50,
		PollInterval: 30 * time.Second,
	}
}

func (d *DeclarationDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *DeclarationDispatcher) dispatchOnce(ctx context.Context) {
	if d.DB == nil || d.Queue == nil || config.DisableAutoDeclaration() {
		return
	}

	refs, err := d.claimDue(ctx)
	if err != nil {
		config.LogError(d.Logger, "workflow", "dispatchOnce", "list due records", d.DispatcherID, err)
		return
	}
	if len(refs) == 0 {
		return
	}

	summary, err := d.Queue.RetryBatch(ctx, refs)
	if err != nil {
		config.LogError(d.Logger, "workflow", "dispatchOnce", "retry batch", d.DispatcherID, err)
		return
	}
	d.Logger.WithFields(logrus.Fields{
		"module":        "workflow",
		"dispatcher_id": d.DispatcherID,
		"picked":        len(refs),
		"success":       summary.Success,
		"client_error":  summary.ClientError,
		"still_pending": summary.StillPending,
	}).Info("declaration sweep finished")
}

// claimDue lists pending records whose backoff has elapsed, oldest first.
// There is no row locking: the engine runs as a single process and the
// per-record terminal write is guarded by sync_status anyway.
func (d *DeclarationDispatcher) claimDue(ctx context.Context) ([]obr.RecordRef, error) {
	now := time.Now()
	due := "sync_status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)"

	var refs []obr.RecordRef

	var movementIDs []int
	err := d.DB.WithContext(ctx).Model(&models.StockMovement{}).
		Where(due, models.SyncStatusPending, now).
		Order("id ASC").
		Limit(d.BatchSize).
		Pluck("id", &movementIDs).Error
	if err != nil {
		return nil, err
	}
	for _, id := range movementIDs {
		refs = append(refs, obr.RecordRef{Kind: models.RecordKindMovement, ID: id})
	}

	var invoiceIDs []int
	err = d.DB.WithContext(ctx).Model(&models.Invoice{}).
		Where(due, models.SyncStatusPending, now).
		Order("id ASC").
		Limit(d.BatchSize).
		Pluck("id", &invoiceIDs).Error
	if err != nil {
		return nil, err
	}
	for _, id := range invoiceIDs {
		refs = append(refs, obr.RecordRef{Kind: models.RecordKindInvoice, ID: id})
	}
	return refs, nil
}

package obr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/models"
	"github.com/hankstore/ebms_backend/utils"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond

	// Redispatch schedule for records that stay pending after a full
	// submission round. The dispatcher polls next_attempt_at.
	redispatchBase = 30 * time.Second
	redispatchCap  = 10 * time.Minute
)

// Declarer drives one record through a declaration round against OBR and
// writes the outcome back in a single update.
//
// Classification:
//   - transport error, timeout, 5xx, or a 2xx without the business success
//     marker: transient, retried up to MaxAttempts with doubling backoff,
//     record stays Pending;
//   - HTTP 400 or 403: permanent rejection, no further attempts, record
//     becomes ClientError;
//   - 2xx with the success marker: record becomes Success, terminal.
type Declarer struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Client   DeclarationClient
	Tokens   TokenProvider
	Notifier *StatusNotifier

	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewDeclarer(db *gorm.DB, client DeclarationClient, tokens TokenProvider, notifier *StatusNotifier) *Declarer {
	return &Declarer{
		DB:             db,
		Logger:         config.GetLogger(),
		Client:         client,
		Tokens:         tokens,
		Notifier:       notifier,
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
	}
}

// outcome is the write-back of one submission round.
type outcome struct {
	status   models.SyncStatus
	body     []byte
	attempts int
	result   json.RawMessage
}

// SubmitMovement runs one declaration round for a stock movement.
func (d *Declarer) SubmitMovement(ctx context.Context, id int) (models.SyncStatus, error) {
	var movement models.StockMovement
	if err := d.DB.WithContext(ctx).First(&movement, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("movement %d: %w", id, err)
		}
		return 0, err
	}
	if movement.SyncStatus != models.SyncStatusPending {
		// Success is terminal; ClientError only reopens through the queue.
		return movement.SyncStatus, nil
	}

	payload, fromSnapshot := models.DecodeMovementPayload(movement.SourceJSON)
	if !fromSnapshot {
		payload = models.BuildMovementPayload(&movement)
		if err := payload.Validate(); err != nil {
			out := outcome{status: models.SyncStatusClientError, body: errorBody(err), attempts: 1}
			return d.finishMovement(ctx, &movement, out)
		}
	}

	out := d.submit(ctx, func(token string) (*Response, error) {
		return d.Client.DeclareStockMovement(ctx, token, payload)
	})
	if !fromSnapshot && out.status != models.SyncStatusClientError {
		if encoded, err := payload.Encode(); err == nil {
			movement.SourceJSON = encoded
		}
	}
	return d.finishMovement(ctx, &movement, out)
}

// SubmitInvoice runs one declaration round for an invoice. On success the
// invoice is also marked sent and the OBR acknowledgment is stored.
func (d *Declarer) SubmitInvoice(ctx context.Context, id int) (models.SyncStatus, error) {
	var invoice models.Invoice
	if err := d.DB.WithContext(ctx).Preload("Lines").First(&invoice, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("invoice %d: %w", id, err)
		}
		return 0, err
	}
	if invoice.SyncStatus != models.SyncStatusPending {
		return invoice.SyncStatus, nil
	}

	payload, fromSnapshot := models.DecodeInvoicePayload(invoice.SourceJSON)
	if !fromSnapshot {
		payload = models.BuildInvoicePayload(&invoice)
		if err := payload.Validate(); err != nil {
			out := outcome{status: models.SyncStatusClientError, body: errorBody(err), attempts: 1}
			return d.finishInvoice(ctx, &invoice, out)
		}
	}

	out := d.submit(ctx, func(token string) (*Response, error) {
		return d.Client.DeclareInvoice(ctx, token, payload)
	})
	if !fromSnapshot && out.status != models.SyncStatusClientError {
		if encoded, err := payload.Encode(); err == nil {
			invoice.SourceJSON = encoded
		}
	}
	return d.finishInvoice(ctx, &invoice, out)
}

// submit runs the attempt loop. The caller binds the payload; submit only
// handles the token, retries and classification.
func (d *Declarer) submit(ctx context.Context, call func(token string) (*Response, error)) outcome {
	// A session token carried on the context (operator-supplied, see
	// IdentityMiddleware) takes precedence over the configured credential.
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok {
		var err error
		token, err = d.Tokens.Token(ctx)
		if err != nil {
			// No credential (or login failure) is not an attempt against the
			// declaration endpoint: the record stays pending untouched until
			// a credential shows up.
			if !errors.Is(err, ErrNoCredential) {
				config.LogError(d.Logger, "obr", "submit", "acquire token", nil, err)
			}
			return outcome{status: models.SyncStatusPending, body: errorBody(err)}
		}
	}

	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := d.InitialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}

	var lastBody []byte
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := call(token)
		if err != nil {
			lastBody = errorBody(err)
			config.LogError(d.Logger, "obr", "submit", "declaration call", attempt, err)
		} else {
			lastBody = resp.Body
			switch {
			case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden:
				return outcome{status: models.SyncStatusClientError, body: resp.Body, attempts: attempt, result: resp.Result}
			case resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.Success:
				return outcome{status: models.SyncStatusSuccess, body: resp.Body, attempts: attempt, result: resp.Result}
			}
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return outcome{status: models.SyncStatusPending, body: lastBody, attempts: attempt}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return outcome{status: models.SyncStatusPending, body: lastBody, attempts: maxAttempts}
}

func (d *Declarer) finishMovement(ctx context.Context, movement *models.StockMovement, out outcome) (models.SyncStatus, error) {
	now := time.Now()
	attempts := movement.Attempts + out.attempts
	updates := map[string]interface{}{
		"sync_status":     out.status,
		"response_json":   out.body,
		"attempts":        attempts,
		"last_attempt_at": &now,
		"next_attempt_at": nextAttemptAt(out.status, attempts, now),
	}
	if len(movement.SourceJSON) > 0 {
		updates["source_json"] = movement.SourceJSON
	}
	// The guard on sync_status keeps a round that lost the race (another
	// round already wrote a terminal status while this one was on the wire)
	// from overwriting the winner. Success never changes again.
	res := d.DB.WithContext(ctx).Model(&models.StockMovement{}).
		Where("id = ? AND sync_status = ?", movement.ID, models.SyncStatusPending).
		Updates(updates)
	if res.Error != nil {
		config.LogError(d.Logger, "obr", "finishMovement", "persist outcome", movement.ID, res.Error)
		return out.status, res.Error
	}
	if res.RowsAffected == 0 {
		return d.currentMovementStatus(ctx, movement.ID, out.status)
	}
	d.Notifier.Publish(StatusChange{Kind: models.RecordKindMovement, ID: movement.ID, Ref: movement.ItemCode, Status: out.status})
	return out.status, nil
}

func (d *Declarer) currentMovementStatus(ctx context.Context, id int, fallback models.SyncStatus) (models.SyncStatus, error) {
	var current models.StockMovement
	if err := d.DB.WithContext(ctx).Select("sync_status").First(&current, id).Error; err != nil {
		return fallback, err
	}
	return current.SyncStatus, nil
}

func (d *Declarer) finishInvoice(ctx context.Context, invoice *models.Invoice, out outcome) (models.SyncStatus, error) {
	now := time.Now()
	attempts := invoice.Attempts + out.attempts
	updates := map[string]interface{}{
		"sync_status":     out.status,
		"response_json":   out.body,
		"attempts":        attempts,
		"last_attempt_at": &now,
		"next_attempt_at": nextAttemptAt(out.status, attempts, now),
	}
	if len(invoice.SourceJSON) > 0 {
		updates["source_json"] = invoice.SourceJSON
	}
	if out.status == models.SyncStatusSuccess {
		updates["status"] = models.InvoiceStatusSent
	}

	// Same race guard as finishMovement; a stale round also must not store
	// an acknowledgment it did not earn.
	stale := false
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND sync_status = ?", invoice.ID, models.SyncStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			stale = true
			return nil
		}
		if out.status == models.SyncStatusSuccess {
			return tx.Create(acknowledgmentFrom(invoice, out.result)).Error
		}
		return nil
	})
	if err != nil {
		config.LogError(d.Logger, "obr", "finishInvoice", "persist outcome", invoice.ID, err)
		return out.status, err
	}
	if stale {
		var current models.Invoice
		if err := d.DB.WithContext(ctx).Select("sync_status").First(&current, invoice.ID).Error; err != nil {
			return out.status, err
		}
		return current.SyncStatus, nil
	}
	d.Notifier.Publish(StatusChange{Kind: models.RecordKindInvoice, ID: invoice.ID, Ref: invoice.InvoiceNumber, Status: out.status})
	return out.status, nil
}

func acknowledgmentFrom(invoice *models.Invoice, result json.RawMessage) *models.Acknowledgment {
	ack := &models.Acknowledgment{InvoiceId: invoice.ID}
	var fields struct {
		RegisteredNumber    string `json:"invoice_registered_number"`
		RegisteredDate      string `json:"invoice_registered_date"`
		ElectronicSignature string `json:"electronic_signature"`
	}
	if len(result) > 0 && json.Unmarshal(result, &fields) == nil {
		ack.RegisteredNumber = fields.RegisteredNumber
		ack.RegisteredDate = fields.RegisteredDate
		ack.ElectronicSignature = fields.ElectronicSignature
	}
	if ack.RegisteredNumber == "" {
		ack.RegisteredNumber = invoice.InvoiceNumber
	}
	if ack.ElectronicSignature == "" {
		ack.ElectronicSignature = invoice.ElectronicSignature
	}
	return ack
}

// nextAttemptAt schedules the dispatcher's next pass for records that stay
// pending; terminal records are never redispatched.
func nextAttemptAt(status models.SyncStatus, attempts int, now time.Time) *time.Time {
	if status != models.SyncStatusPending {
		return nil
	}
	shift := attempts
	if shift > 5 {
		shift = 5
	}
	delay := redispatchBase * time.Duration(1<<shift)
	if delay > redispatchCap {
		delay = redispatchCap
	}
	at := now.Add(delay)
	return &at
}

func errorBody(err error) []byte {
	body, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return []byte(`{"error":"unknown"}`)
	}
	return body
}

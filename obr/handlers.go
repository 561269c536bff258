package obr

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/models"
	"github.com/hankstore/ebms_backend/utils"
)

const queryDateLayout = "2006-01-02"

// ApplyMovementHandler records a stock movement and, unless auto
// declaration is off, pushes it to OBR in the background. The HTTP response
// reflects the ledger commit, never the declaration outcome.
func ApplyMovementHandler(declarer *Declarer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewStockMovement
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if input.SystemId == "" {
			input.SystemId, _ = utils.GetSystemIdFromContext(c.Request.Context())
		}

		movement, err := models.ApplyMovement(c.Request.Context(), &input)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrUnknownItem):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, models.ErrInsufficientStock):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}

		declareAsync(declarer, c.Request.Context(), models.RecordKindMovement, movement.ID)
		c.JSON(http.StatusCreated, movement)
	}
}

// CreateInvoiceHandler issues an invoice (number, signature, sale movements)
// and declares it in the background.
func CreateInvoiceHandler(declarer *Declarer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvoice
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		// The front office usually carries the issuer identity in headers
		// rather than repeating it in every body.
		if input.IssuerTIN == "" {
			input.IssuerTIN, _ = utils.GetIssuerTINFromContext(c.Request.Context())
		}
		if input.SystemId == "" {
			input.SystemId, _ = utils.GetSystemIdFromContext(c.Request.Context())
		}

		invoice, err := models.CreateInvoice(c.Request.Context(), &input)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrUnknownItem):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, models.ErrInsufficientStock):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}

		declareAsync(declarer, c.Request.Context(), models.RecordKindInvoice, invoice.ID)
		c.JSON(http.StatusCreated, invoice)
	}
}

func GetInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		invoice, err := models.FetchInvoice(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

// CancelInvoiceHandler marks a sent invoice cancelled. The restocking
// movement, if the operator wants one, goes through the movements endpoint.
func CancelInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
			return
		}
		if err := models.CancelInvoice(c.Request.Context(), id); err != nil {
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			case errors.Is(err, models.ErrInvoiceNotCancellable):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func ListRetriableHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, err := queue.ListRetriable(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": records, "count": len(records)})
	}
}

func RetryHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, err := models.ParseRecordKind(c.Param("kind"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
			return
		}

		status, err := queue.Retry(c.Request.Context(), kind, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": status.String()})
	}
}

type retryBatchRequest struct {
	Records []RecordRef `json:"records"`
	// Empty records means "everything currently retriable".
	IncludeClientErrors bool `json:"include_client_errors"`
}

func RetryBatchHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req retryBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		refs := req.Records
		if len(refs) == 0 {
			records, err := queue.ListRetriable(c.Request.Context(), Filter{IncludeClientErrors: req.IncludeClientErrors})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			for _, record := range records {
				refs = append(refs, RecordRef{Kind: record.Kind, ID: record.ID})
			}
		}

		summary, err := queue.RetryBatch(c.Request.Context(), refs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func parseFilter(c *gin.Context) (Filter, error) {
	var filter Filter
	if v := strings.TrimSpace(c.Query("from")); v != "" {
		t, err := time.ParseInLocation(queryDateLayout, v, time.Local)
		if err != nil {
			return filter, errors.New("from must be YYYY-MM-DD")
		}
		filter.From = &t
	}
	if v := strings.TrimSpace(c.Query("to")); v != "" {
		t, err := time.ParseInLocation(queryDateLayout, v, time.Local)
		if err != nil {
			return filter, errors.New("to must be YYYY-MM-DD")
		}
		// Inclusive day window.
		end := t.AddDate(0, 0, 1)
		filter.To = &end
	}
	if v := strings.TrimSpace(c.Query("kind")); v != "" {
		kind, err := models.ParseRecordKind(v)
		if err != nil {
			return filter, err
		}
		filter.Kind = kind
	}
	if v := strings.TrimSpace(c.Query("include_client_errors")); v != "" {
		filter.IncludeClientErrors = v == "true" || v == "1"
	}
	return filter, nil
}

// declareAsync kicks a declaration round without holding the HTTP request.
// The round outlives the request, so only the identity values carry over to
// the detached context.
func declareAsync(declarer *Declarer, parent context.Context, kind models.RecordKind, id int) {
	if declarer == nil || config.DisableAutoDeclaration() {
		return
	}
	token, hasToken := utils.GetTokenFromContext(parent)
	cid, hasCid := utils.GetCorrelationIdFromContext(parent)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if hasToken {
			ctx = utils.SetTokenInContext(ctx, token)
		}
		if hasCid {
			ctx = utils.SetCorrelationIdInContext(ctx, cid)
		}
		switch kind {
		case models.RecordKindMovement:
			_, _ = declarer.SubmitMovement(ctx, id)
		case models.RecordKindInvoice:
			_, _ = declarer.SubmitInvoice(ctx, id)
		}
	}()
}

package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hankstore/ebms_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotCancellable = errors.New("only a sent invoice can be cancelled")
	ErrInvoiceImmutable      = errors.New("a sent invoice cannot be modified")
)

// Invoice is a locally issued invoice plus its OBR declaration state. The
// identifier and signatures are computed once at creation and never change
// after the invoice is marked sent.
type Invoice struct {
	ID            int       `gorm:"primary_key" json:"id"`
	InvoiceNumber string    `gorm:"uniqueIndex;size:100;not null" json:"invoice_number"`
	InvoiceDate   time.Time `gorm:"index;not null" json:"invoice_date"`
	InvoiceType   string    `gorm:"size:20;default:FN" json:"invoice_type"`
	Currency      string    `gorm:"size:10;default:BIF" json:"currency"`
	PaymentType   string    `gorm:"size:20" json:"payment_type"`

	Identifier          string `gorm:"size:255" json:"identifier"`
	SignatureDate       string `gorm:"size:30" json:"signature_date"`
	ElectronicSignature string `gorm:"size:64" json:"electronic_signature"`

	IssuerTIN  string `gorm:"index;size:50" json:"issuer_tin"`
	IssuerName string `gorm:"size:255" json:"issuer_name"`
	SystemId   string `gorm:"size:100" json:"system_id"`

	CustomerName string `gorm:"size:255" json:"customer_name"`
	CustomerTIN  string `gorm:"size:50" json:"customer_tin"`

	Status      InvoiceStatus   `gorm:"size:20;not null;default:not_sent" json:"status"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_amount"`

	Lines []InvoiceLine `gorm:"foreignKey:InvoiceId" json:"lines"`

	SyncStatus    SyncStatus `gorm:"index;not null;default:0" json:"sync_status"`
	SourceJSON    []byte     `gorm:"type:text" json:"source_json"`
	ResponseJSON  []byte     `gorm:"type:text" json:"response_json"`
	Attempts      int        `gorm:"default:0" json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	NextAttemptAt *time.Time `gorm:"index" json:"next_attempt_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceLine struct {
	ID              int             `gorm:"primary_key" json:"id"`
	InvoiceId       int             `gorm:"index;not null" json:"invoice_id"`
	ItemCode        string          `gorm:"index;size:100;not null" json:"item_code"`
	Designation     string          `gorm:"size:255" json:"designation"`
	MeasurementUnit string          `gorm:"size:50" json:"measurement_unit"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	VatRate         decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"vat_rate"`
	TotalExclVat    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_excl_vat"`
	VatAmount       decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"vat_amount"`
	TotalInclVat    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_incl_vat"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Acknowledgment stores what OBR returned for a successfully declared
// invoice, for audit.
type Acknowledgment struct {
	ID                  int       `gorm:"primary_key" json:"id"`
	InvoiceId           int       `gorm:"index;not null" json:"invoice_id"`
	RegisteredNumber    string    `gorm:"size:100" json:"registered_number"`
	RegisteredDate      string    `gorm:"size:30" json:"registered_date"`
	ElectronicSignature string    `gorm:"size:255" json:"electronic_signature"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewInvoiceLine struct {
	ItemCode  string          `json:"item_code" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	VatRate   decimal.Decimal `json:"vat_rate"`
}

type NewInvoice struct {
	InvoiceDate   time.Time        `json:"invoice_date"`
	InvoiceType   string           `json:"invoice_type"`
	Currency      string           `json:"currency"`
	PaymentType   string           `json:"payment_type"`
	IssuerTIN     string           `json:"issuer_tin"`
	IssuerName    string           `json:"issuer_name"`
	SystemId      string           `json:"system_id"`
	CustomerName  string           `json:"customer_name"`
	CustomerTIN   string           `json:"customer_tin"`
	SignatureDate string           `json:"signature_date"`
	Lines         []NewInvoiceLine `json:"lines" binding:"required"`
}

func (input *NewInvoice) validate() error {
	if len(input.Lines) == 0 {
		return errors.New("invoice requires at least one line")
	}
	for i, l := range input.Lines {
		if l.ItemCode == "" {
			return fmt.Errorf("line %d: item code is required", i+1)
		}
		if !l.Quantity.IsPositive() {
			return fmt.Errorf("line %d: quantity must be positive", i+1)
		}
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("line %d: unit price cannot be negative", i+1)
		}
	}
	if input.SignatureDate != "" && !ValidSignatureDate(input.SignatureDate) {
		return errors.New("signature date must be YYYY-MM-DD HH:MM:SS")
	}
	return nil
}

// CreateInvoice creates the invoice, its lines and one sale (SV) stock
// movement per line in a single transaction, holding the locks of every
// referenced item. The whole invoice fails when any line has insufficient
// stock; nothing partial is ever persisted.
func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(input.Lines))
	for _, l := range input.Lines {
		codes = append(codes, l.ItemCode)
	}
	unlock := lockItems(codes)
	defer unlock()

	now := time.Now()
	if input.InvoiceDate.IsZero() {
		input.InvoiceDate = now
	}
	if input.Currency == "" {
		input.Currency = "BIF"
	}
	if input.InvoiceType == "" {
		input.InvoiceType = "FN"
	}

	sigTs := now
	if input.SignatureDate != "" {
		// Validated above; a future instant is handled by BuildSignature.
		sigTs, _ = time.Parse(SignatureDateLayout, input.SignatureDate)
	}

	db := config.GetDB()
	var invoice *Invoice
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := nextInvoiceNumber(tx, input.InvoiceDate)
		if err != nil {
			return err
		}
		sig, err := BuildSignature(input.IssuerTIN, input.SystemId, number, sigTs)
		if err != nil {
			return err
		}

		grace := time.Now().Add(declarationGrace)
		invoice = &Invoice{
			InvoiceNumber:       number,
			InvoiceDate:         input.InvoiceDate,
			InvoiceType:         input.InvoiceType,
			Currency:            input.Currency,
			PaymentType:         input.PaymentType,
			Identifier:          sig.Identifier,
			SignatureDate:       sig.SignatureDate,
			ElectronicSignature: sig.ElectronicSignature,
			IssuerTIN:           input.IssuerTIN,
			IssuerName:          input.IssuerName,
			SystemId:            input.SystemId,
			CustomerName:        input.CustomerName,
			CustomerTIN:         input.CustomerTIN,
			Status:              InvoiceStatusNotSent,
			SyncStatus:          SyncStatusPending,
			NextAttemptAt:       &grace,
		}

		total := decimal.Zero
		hundred := decimal.NewFromInt(100)
		for _, l := range input.Lines {
			item, err := fetchItemTx(tx, l.ItemCode)
			if err != nil {
				return err
			}

			unitPrice := l.UnitPrice
			if unitPrice.IsZero() {
				unitPrice = item.SalePrice
			}
			vatRate := l.VatRate
			if vatRate.IsZero() {
				vatRate = item.VatRate
			}

			exclVat := unitPrice.Mul(l.Quantity).Round(2)
			vatAmount := exclVat.Mul(vatRate).Div(hundred).Round(2)
			inclVat := exclVat.Add(vatAmount)
			total = total.Add(inclVat)

			invoice.Lines = append(invoice.Lines, InvoiceLine{
				ItemCode:        l.ItemCode,
				Designation:     item.Designation,
				MeasurementUnit: item.MeasurementUnit,
				Quantity:        l.Quantity,
				UnitPrice:       unitPrice,
				VatRate:         vatRate,
				TotalExclVat:    exclVat,
				VatAmount:       vatAmount,
				TotalInclVat:    inclVat,
			})
		}
		invoice.TotalAmount = total

		if err := tx.Create(invoice).Error; err != nil {
			return err
		}

		// One sale movement per line, same transaction.
		for _, line := range invoice.Lines {
			mv := &NewStockMovement{
				ItemCode:     line.ItemCode,
				Kind:         MovementExitSale,
				Quantity:     line.Quantity,
				SalePrice:    line.UnitPrice,
				MovementDate: input.InvoiceDate,
				InvoiceRef:   number,
				Description:  "vente facture " + number,
				SystemId:     input.SystemId,
				Currency:     input.Currency,
			}
			mv.applyDefaults()
			if _, err := applyMovementTx(tx, mv); err != nil {
				return err
			}
		}

		snapshot, err := BuildInvoicePayload(invoice).Encode()
		if err != nil {
			return err
		}
		invoice.SourceJSON = snapshot
		return tx.Model(&Invoice{}).Where("id = ?", invoice.ID).
			Update("source_json", snapshot).Error
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func fetchItemTx(tx *gorm.DB, code string) (*StockItem, error) {
	var item StockItem
	if err := tx.Where("item_code = ?", code).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownItem, code)
		}
		return nil, err
	}
	return &item, nil
}

// CancelInvoice moves a sent invoice to its terminal cancelled state.
// Cancellation is a local bookkeeping action; it does not recall the
// declaration already acknowledged by OBR.
func CancelInvoice(ctx context.Context, id int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv Invoice
		if err := tx.First(&inv, id).Error; err != nil {
			return err
		}
		if inv.Status != InvoiceStatusSent {
			return fmt.Errorf("%w: invoice %s is %s", ErrInvoiceNotCancellable, inv.InvoiceNumber, inv.Status)
		}
		return tx.Model(&Invoice{}).Where("id = ?", id).
			Update("status", InvoiceStatusCancelled).Error
	})
}

// FetchInvoice loads an invoice with its lines.
func FetchInvoice(ctx context.Context, id int) (*Invoice, error) {
	db := config.GetDB()
	var inv Invoice
	if err := db.WithContext(ctx).Preload("Lines").First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

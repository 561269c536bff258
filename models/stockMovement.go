package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockMovement is one ledger-affecting business event, created atomically
// with the StockItem update it describes. After creation only the declarer
// and the reconciliation queue touch it; it is never deleted.
type StockMovement struct {
	ID              int             `gorm:"primary_key" json:"id"`
	StockItemId     int             `gorm:"index;not null" json:"stock_item_id"`
	SystemId        string          `gorm:"size:100" json:"system_id"`
	ItemCode        string          `gorm:"index;size:100;not null" json:"item_code"`
	ItemDesignation string          `gorm:"size:255" json:"item_designation"`
	Kind            MovementKind    `gorm:"size:5;not null" json:"kind"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CostPrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	SalePrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sale_price"`
	MeasurementUnit string          `gorm:"size:50" json:"measurement_unit"`
	Currency        string          `gorm:"size:10;default:BIF" json:"currency"`
	MovementDate    time.Time       `gorm:"index;not null" json:"movement_date"`
	InvoiceRef      string          `gorm:"size:100" json:"invoice_ref"`
	Description     string          `gorm:"type:text" json:"description"`

	SyncStatus    SyncStatus `gorm:"index;not null;default:0" json:"sync_status"`
	SourceJSON    []byte     `gorm:"type:text" json:"source_json"`
	ResponseJSON  []byte     `gorm:"type:text" json:"response_json"`
	Attempts      int        `gorm:"default:0" json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`
	NextAttemptAt *time.Time `gorm:"index" json:"next_attempt_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate enforces internal invariants for the declaration ledger.
//
// Downstream queries classify retriable work purely by sync_status, so an
// out-of-range value would strand a record forever. Quantity is stored
// positive; the kind carries the direction.
func (m *StockMovement) BeforeCreate(tx *gorm.DB) error {
	_ = tx // signature required by gorm; tx may be nil in tests
	if m == nil {
		return nil
	}
	if !m.SyncStatus.Valid() {
		return fmt.Errorf("invalid sync status %d on movement %q", int(m.SyncStatus), m.ItemCode)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("invalid movement kind %q", m.Kind)
	}
	if m.Quantity.IsNegative() {
		m.Quantity = m.Quantity.Neg()
	}
	return nil
}

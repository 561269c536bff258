package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hankstore/ebms_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger invariant violations. Both abort before anything is written.
var (
	ErrInsufficientStock = errors.New("insufficient stock for exit movement")
	ErrUnknownItem       = errors.New("exit movement references unknown item")
)

// declarationGrace keeps the background dispatcher off a freshly created
// record while the inline declaration round that follows creation is still
// running, so the same record is never on the wire twice.
const declarationGrace = 2 * time.Minute

// NewStockMovement is the input for one ledger-affecting business event.
type NewStockMovement struct {
	ItemCode        string          `json:"item_code" binding:"required"`
	Designation     string          `json:"designation"`
	MeasurementUnit string          `json:"measurement_unit"`
	Kind            MovementKind    `json:"kind" binding:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	SalePrice       decimal.Decimal `json:"sale_price"`
	VatRate         decimal.Decimal `json:"vat_rate"`
	CommunalTax     decimal.Decimal `json:"communal_tax"`
	LicenseTax      decimal.Decimal `json:"license_tax"`
	SpecificTax     decimal.Decimal `json:"specific_tax"`
	OtherTax        decimal.Decimal `json:"other_tax"`
	PricingStrategy PricingStrategy `json:"pricing_strategy"`
	MarkupValue     decimal.Decimal `json:"markup_value"`
	MovementDate    time.Time       `json:"movement_date"`
	InvoiceRef      string          `json:"invoice_ref"`
	Description     string          `json:"description"`
	SystemId        string          `json:"system_id"`
	Currency        string          `json:"currency"`
}

func (input *NewStockMovement) validate() error {
	if input.ItemCode == "" {
		return errors.New("item code is required")
	}
	if !input.Kind.Valid() {
		return fmt.Errorf("unknown movement kind %q", input.Kind)
	}
	if !input.Quantity.IsPositive() {
		return errors.New("quantity must be positive")
	}
	if input.PricingStrategy != "" && !input.PricingStrategy.Valid() {
		return fmt.Errorf("unknown pricing strategy %q", input.PricingStrategy)
	}
	return nil
}

func (input *NewStockMovement) applyDefaults() {
	if input.MovementDate.IsZero() {
		input.MovementDate = time.Now()
	}
	if input.Currency == "" {
		input.Currency = "BIF"
	}
	if input.MeasurementUnit == "" {
		input.MeasurementUnit = "unité"
	}
}

// itemLocks serializes movement application per item code. The weighted
// average cost and the exit sufficiency check both read the latest committed
// row; without same-item serialization two concurrent exits could pass the
// check against a stale quantity. The original desktop app got this for free
// from its single UI thread; here the lock is explicit.
var itemLocks = struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}{locks: map[string]*sync.Mutex{}}

func lockItem(code string) func() {
	itemLocks.mu.Lock()
	l := itemLocks.locks[code]
	if l == nil {
		l = &sync.Mutex{}
		itemLocks.locks[code] = l
	}
	itemLocks.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// lockItems acquires the per-item locks for a set of codes in sorted order
// so two overlapping invoices cannot deadlock each other.
func lockItems(codes []string) func() {
	unique := make([]string, 0, len(codes))
	seen := map[string]bool{}
	for _, c := range codes {
		if !seen[c] {
			seen[c] = true
			unique = append(unique, c)
		}
	}
	sort.Strings(unique)

	unlocks := make([]func(), 0, len(unique))
	for _, c := range unique {
		unlocks = append(unlocks, lockItem(c))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// ApplyMovement applies one stock movement to the inventory ledger.
//
// Entries increase quantity and blend the unit cost into the weighted
// average; exits decrease quantity and leave the cost untouched. Exactly one
// StockMovement row (status Pending, with its payload snapshot) and one
// StockItem write happen in the same transaction. On ErrInsufficientStock or
// ErrUnknownItem nothing is persisted.
func ApplyMovement(ctx context.Context, input *NewStockMovement) (*StockMovement, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	unlock := lockItem(input.ItemCode)
	defer unlock()

	input.applyDefaults()

	db := config.GetDB()
	var movement *StockMovement
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		movement, txErr = applyMovementTx(tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// applyMovementTx runs the ledger update inside the caller's transaction.
// Callers must already hold the item lock and have defaulted the input.
func applyMovementTx(tx *gorm.DB, input *NewStockMovement) (*StockMovement, error) {
	var item StockItem
	found := true
	if err := tx.Where("item_code = ?", input.ItemCode).First(&item).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		found = false
	}

	if input.Kind.IsExit() {
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownItem, input.ItemCode)
		}
		if input.Quantity.GreaterThan(item.Quantity) {
			return nil, fmt.Errorf("%w: %s requested %s available %s",
				ErrInsufficientStock, input.ItemCode, input.Quantity, item.Quantity)
		}
		item.Quantity = item.Quantity.Sub(input.Quantity)
		// Exit movements never touch the weighted-average cost.
		if err := tx.Model(&StockItem{}).Where("id = ?", item.ID).
			Update("quantity", item.Quantity).Error; err != nil {
			return nil, err
		}
	} else {
		now := input.MovementDate
		if !found {
			item = StockItem{
				ItemCode:         input.ItemCode,
				Designation:      input.Designation,
				MeasurementUnit:  input.MeasurementUnit,
				Quantity:         input.Quantity,
				CostPrice:        input.UnitCost,
				VatRate:          input.VatRate,
				CommunalTax:      input.CommunalTax,
				LicenseTax:       input.LicenseTax,
				SpecificTax:      input.SpecificTax,
				OtherTax:         input.OtherTax,
				PricingStrategy:  input.PricingStrategy,
				MarkupValue:      input.MarkupValue,
				LastPurchaseDate: &now,
			}
			if item.PricingStrategy == "" {
				item.PricingStrategy = PricingMarkupPercent
			}
			item.SalePrice = item.resolveSalePrice(item.CostPrice, input.SalePrice)
			if err := tx.Create(&item).Error; err != nil {
				return nil, err
			}
		} else {
			totalQty := item.Quantity.Add(input.Quantity)
			if totalQty.IsPositive() {
				item.CostPrice = item.Quantity.Mul(item.CostPrice).
					Add(input.Quantity.Mul(input.UnitCost)).
					Div(totalQty)
			} else {
				item.CostPrice = input.UnitCost
			}
			item.Quantity = totalQty
			if input.PricingStrategy != "" {
				item.PricingStrategy = input.PricingStrategy
				item.MarkupValue = input.MarkupValue
			}
			item.VatRate = input.VatRate
			item.CommunalTax = input.CommunalTax
			item.LicenseTax = input.LicenseTax
			item.SpecificTax = input.SpecificTax
			item.OtherTax = input.OtherTax
			item.SalePrice = item.resolveSalePrice(item.CostPrice, input.SalePrice)
			item.LastPurchaseDate = &now
			if err := tx.Save(&item).Error; err != nil {
				return nil, err
			}
		}
	}

	grace := time.Now().Add(declarationGrace)
	movement := &StockMovement{
		StockItemId:     item.ID,
		SystemId:        input.SystemId,
		ItemCode:        input.ItemCode,
		ItemDesignation: item.Designation,
		Kind:            input.Kind,
		Quantity:        input.Quantity,
		UnitPrice:       movementUnitPrice(input),
		CostPrice:       item.CostPrice,
		SalePrice:       item.SalePrice,
		MeasurementUnit: item.MeasurementUnit,
		Currency:        input.Currency,
		MovementDate:    input.MovementDate,
		InvoiceRef:      input.InvoiceRef,
		Description:     input.Description,
		SyncStatus:      SyncStatusPending,
		NextAttemptAt:   &grace,
	}
	snapshot, err := BuildMovementPayload(movement).Encode()
	if err != nil {
		return nil, err
	}
	movement.SourceJSON = snapshot
	if err := tx.Create(movement).Error; err != nil {
		return nil, err
	}
	return movement, nil
}

// movementUnitPrice picks the price recorded on the movement row: cost for
// entries, sale price for sales, cost otherwise.
func movementUnitPrice(input *NewStockMovement) decimal.Decimal {
	if input.Kind == MovementExitSale && input.SalePrice.IsPositive() {
		return input.SalePrice
	}
	return input.UnitCost
}

// FetchItemByCode reads the latest committed row for an item. Callers must
// not cache the result across movement applications.
func FetchItemByCode(ctx context.Context, code string) (*StockItem, error) {
	db := config.GetDB()
	var item StockItem
	if err := db.WithContext(ctx).Where("item_code = ?", code).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockItem is one article in the local ledger. Quantity and CostPrice are
// maintained exclusively by ApplyMovement; CostPrice is a running weighted
// average, recomputed only on quantity-increasing movements.
type StockItem struct {
	ID               int             `gorm:"primary_key" json:"id"`
	ItemCode         string          `gorm:"uniqueIndex;size:100;not null" json:"item_code"`
	Designation      string          `gorm:"size:255;not null" json:"designation"`
	MeasurementUnit  string          `gorm:"size:50;default:unité" json:"measurement_unit"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	CostPrice        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	SalePrice        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sale_price"`
	VatRate          decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"vat_rate"`
	CommunalTax      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"communal_tax"`
	LicenseTax       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"license_tax"`
	SpecificTax      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"specific_tax"`
	OtherTax         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"other_tax"`
	PricingStrategy  PricingStrategy `gorm:"size:20;default:markup_percent" json:"pricing_strategy"`
	MarkupValue      decimal.Decimal `gorm:"type:decimal(10,4);default:0" json:"markup_value"`
	LastPurchaseDate *time.Time      `json:"last_purchase_date"`
	IsManual         bool            `gorm:"not null;default:false" json:"is_manual"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// resolveSalePrice applies the item's pricing strategy after an entry
// movement updated its weighted-average cost. A zero explicit price with the
// fixed strategy keeps the previous sale price.
func (item *StockItem) resolveSalePrice(newCost, explicitSale decimal.Decimal) decimal.Decimal {
	switch item.PricingStrategy {
	case PricingMarkupPercent:
		hundred := decimal.NewFromInt(100)
		return newCost.Mul(hundred.Add(item.MarkupValue)).Div(hundred)
	case PricingMarkupAmount:
		return newCost.Add(item.MarkupValue)
	case PricingLastCost:
		return newCost
	default: // PricingFixed
		if explicitSale.IsPositive() {
			return explicitSale
		}
		return item.SalePrice
	}
}

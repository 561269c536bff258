package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// The payloads below are the exact blobs persisted on each record and
// re-submitted by the reconciliation queue. Required fields are part of the
// type: a stored snapshot that no longer satisfies them (captured before a
// schema change, for instance) is discarded and rebuilt from committed state.

var payloadValidator = validator.New()

// StockMovementPayload is the "declare stock movement" request body.
type StockMovementPayload struct {
	SystemOrDeviceId        string `json:"system_or_device_id" validate:"required"`
	ItemCode                string `json:"item_code" validate:"required"`
	ItemDesignation         string `json:"item_designation" validate:"required"`
	ItemQuantity            string `json:"item_quantity" validate:"required"`
	ItemMeasurementUnit     string `json:"item_measurement_unit" validate:"required"`
	ItemCostPrice           string `json:"item_cost_price"`
	ItemPrice               string `json:"item_price"`
	ItemPurchaseOrSalePrice string `json:"item_purchase_or_sale_price" validate:"required"`
	ItemCurrency            string `json:"item_purchase_or_sale_currency" validate:"required"`
	ItemMovementType        string `json:"item_movement_type" validate:"required"`
	ItemMovementDate        string `json:"item_movement_date" validate:"required"`
	ItemMovementInvoiceRef  string `json:"item_movement_invoice_ref"`
	ItemMovementDescription string `json:"item_movement_description"`
}

// InvoiceItemPayload is one line of the "declare invoice" request body.
type InvoiceItemPayload struct {
	ItemCode            string `json:"item_code" validate:"required"`
	ItemDesignation     string `json:"item_designation" validate:"required"`
	ItemQuantity        string `json:"item_quantity" validate:"required"`
	ItemPrice           string `json:"item_price" validate:"required"`
	ItemPriceNoVat      string `json:"item_price_nvat" validate:"required"`
	ItemPriceWithVat    string `json:"item_price_wvat" validate:"required"`
	Vat                 string `json:"vat"`
	ItemTotalAmount     string `json:"item_total_amount" validate:"required"`
	ItemMeasurementUnit string `json:"item_measurement_unit"`
}

// InvoicePayload is the "declare invoice" request body.
type InvoicePayload struct {
	InvoiceNumber       string               `json:"invoice_number" validate:"required"`
	InvoiceDate         string               `json:"invoice_date" validate:"required"`
	InvoiceIdentifier   string               `json:"invoice_identifier" validate:"required"`
	InvoiceType         string               `json:"invoice_type"`
	TpTIN               string               `json:"tp_TIN" validate:"required"`
	TpName              string               `json:"tp_name"`
	CustomerName        string               `json:"customer_name"`
	CustomerTIN         string               `json:"customer_TIN"`
	PaymentType         string               `json:"payment_type"`
	InvoiceCurrency     string               `json:"invoice_currency" validate:"required"`
	InvoiceItems        []InvoiceItemPayload `json:"invoice_items" validate:"required,min=1,dive"`
	InvoiceSignature    string               `json:"invoice_signature" validate:"required"`
	SignatureDate       string               `json:"invoice_signature_date" validate:"required"`
	ElectronicSignature string               `json:"electronic_signature" validate:"required"`
	SystemOrDeviceId    string               `json:"system_or_device_id" validate:"required"`
}

func (p StockMovementPayload) Validate() error { return validatePayload(p) }
func (p InvoicePayload) Validate() error       { return validatePayload(p) }

func validatePayload(p interface{}) error {
	if err := payloadValidator.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, fe.Field())
			}
			return fmt.Errorf("payload_incomplete: missing %s", strings.Join(missing, ", "))
		}
		return err
	}
	return nil
}

func (p StockMovementPayload) Encode() ([]byte, error) { return json.Marshal(p) }
func (p InvoicePayload) Encode() ([]byte, error)       { return json.Marshal(p) }

// BuildMovementPayload derives the declaration payload from a movement row.
// Every required field lives on the row itself, so this is also the rebuild
// path when a stored snapshot fails validation.
func BuildMovementPayload(m *StockMovement) StockMovementPayload {
	return StockMovementPayload{
		SystemOrDeviceId:        m.SystemId,
		ItemCode:                m.ItemCode,
		ItemDesignation:         m.ItemDesignation,
		ItemQuantity:            m.Quantity.String(),
		ItemMeasurementUnit:     m.MeasurementUnit,
		ItemCostPrice:           m.CostPrice.String(),
		ItemPrice:               m.SalePrice.String(),
		ItemPurchaseOrSalePrice: m.UnitPrice.String(),
		ItemCurrency:            m.Currency,
		ItemMovementType:        string(m.Kind),
		ItemMovementDate:        m.MovementDate.Format(SignatureDateLayout),
		ItemMovementInvoiceRef:  m.InvoiceRef,
		ItemMovementDescription: m.Description,
	}
}

// DecodeMovementPayload parses a stored snapshot. ok is false when the blob
// does not decode or no longer carries every required field.
func DecodeMovementPayload(raw []byte) (StockMovementPayload, bool) {
	var p StockMovementPayload
	if len(raw) == 0 {
		return p, false
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, false
	}
	if err := p.Validate(); err != nil {
		return p, false
	}
	return p, true
}

// BuildInvoicePayload derives the declaration payload from an invoice and
// its lines.
func BuildInvoicePayload(inv *Invoice) InvoicePayload {
	items := make([]InvoiceItemPayload, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		items = append(items, InvoiceItemPayload{
			ItemCode:            l.ItemCode,
			ItemDesignation:     l.Designation,
			ItemQuantity:        l.Quantity.String(),
			ItemPrice:           l.UnitPrice.String(),
			ItemPriceNoVat:      l.TotalExclVat.String(),
			ItemPriceWithVat:    l.TotalInclVat.String(),
			Vat:                 l.VatAmount.String(),
			ItemTotalAmount:     l.TotalInclVat.String(),
			ItemMeasurementUnit: l.MeasurementUnit,
		})
	}
	return InvoicePayload{
		InvoiceNumber:       inv.InvoiceNumber,
		InvoiceDate:         inv.InvoiceDate.Format(SignatureDateLayout),
		InvoiceIdentifier:   inv.Identifier,
		InvoiceType:         inv.InvoiceType,
		TpTIN:               inv.IssuerTIN,
		TpName:              inv.IssuerName,
		CustomerName:        inv.CustomerName,
		CustomerTIN:         inv.CustomerTIN,
		PaymentType:         inv.PaymentType,
		InvoiceCurrency:     inv.Currency,
		InvoiceItems:        items,
		InvoiceSignature:    inv.Identifier,
		SignatureDate:       inv.SignatureDate,
		ElectronicSignature: inv.ElectronicSignature,
		SystemOrDeviceId:    inv.SystemId,
	}
}

// DecodeInvoicePayload parses a stored invoice snapshot; ok mirrors
// DecodeMovementPayload.
func DecodeInvoicePayload(raw []byte) (InvoicePayload, bool) {
	var p InvoicePayload
	if len(raw) == 0 {
		return p, false
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, false
	}
	if err := p.Validate(); err != nil {
		return p, false
	}
	return p, true
}

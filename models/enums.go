package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

// SyncStatus tracks how far a record got through OBR declaration.
// Stored as an integer so the ledger stays readable with plain SQL.
type SyncStatus int

const (
	// SyncStatusPending: not yet successfully declared, eligible for retry.
	SyncStatusPending SyncStatus = 0
	// SyncStatusSuccess: acknowledged by OBR. Terminal.
	SyncStatusSuccess SyncStatus = 1
	// SyncStatusClientError: permanent rejection (bad data). Only an explicit
	// operator retry moves it back to Pending.
	SyncStatusClientError SyncStatus = 2
)

func (s SyncStatus) String() string {
	switch s {
	case SyncStatusPending:
		return "Pending"
	case SyncStatusSuccess:
		return "Success"
	case SyncStatusClientError:
		return "ClientError"
	default:
		return fmt.Sprintf("SyncStatus(%d)", int(s))
	}
}

func (s SyncStatus) Valid() bool {
	return s == SyncStatusPending || s == SyncStatusSuccess || s == SyncStatusClientError
}

// Terminal reports whether the dispatcher must leave the record alone.
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusSuccess || s == SyncStatusClientError
}

func (s SyncStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid sync status %d", int(s))
	}
	return int64(s), nil
}

func (s *SyncStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case int64:
		*s = SyncStatus(v)
	case int:
		*s = SyncStatus(v)
	default:
		return fmt.Errorf("cannot scan %T into SyncStatus", value)
	}
	if !s.Valid() {
		return fmt.Errorf("invalid sync status %v", value)
	}
	return nil
}

// MovementKind is the OBR movement type code. Entry codes start with "E",
// exit codes with "S"; the prefix is the classification, not a convention.
type MovementKind string

const (
	MovementEntryNormal     MovementKind = "EN"
	MovementEntryReturn     MovementKind = "ER"
	MovementEntryInitial    MovementKind = "EI"
	MovementEntryAdjustment MovementKind = "EAJ"
	MovementEntryTransfer   MovementKind = "ET"
	MovementEntryOtherUnit  MovementKind = "EAU"
	MovementExitNormal      MovementKind = "SN"
	MovementExitLoss        MovementKind = "SP"
	MovementExitSale        MovementKind = "SV"
	MovementExitDonation    MovementKind = "SD"
	MovementExitConsumption MovementKind = "SC"
	MovementExitAdjustment  MovementKind = "SAJ"
	MovementExitTransfer    MovementKind = "ST"
	MovementExitOtherUnit   MovementKind = "SAU"
)

var movementKinds = map[MovementKind]struct{}{
	MovementEntryNormal: {}, MovementEntryReturn: {}, MovementEntryInitial: {},
	MovementEntryAdjustment: {}, MovementEntryTransfer: {}, MovementEntryOtherUnit: {},
	MovementExitNormal: {}, MovementExitLoss: {}, MovementExitSale: {},
	MovementExitDonation: {}, MovementExitConsumption: {}, MovementExitAdjustment: {},
	MovementExitTransfer: {}, MovementExitOtherUnit: {},
}

func (k MovementKind) Valid() bool {
	_, ok := movementKinds[k]
	return ok
}

func (k MovementKind) IsEntry() bool {
	return strings.HasPrefix(string(k), "E")
}

func (k MovementKind) IsExit() bool {
	return strings.HasPrefix(string(k), "S")
}

func ParseMovementKind(s string) (MovementKind, error) {
	k := MovementKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown movement kind %q", s)
	}
	return k, nil
}

// PricingStrategy decides how an item's sale price follows its costs.
type PricingStrategy string

const (
	PricingFixed         PricingStrategy = "fixed"
	PricingMarkupPercent PricingStrategy = "markup_percent"
	PricingMarkupAmount  PricingStrategy = "markup_amount"
	PricingLastCost      PricingStrategy = "last_cost"
)

func (p PricingStrategy) Valid() bool {
	switch p {
	case PricingFixed, PricingMarkupPercent, PricingMarkupAmount, PricingLastCost:
		return true
	}
	return false
}

type InvoiceStatus string

const (
	InvoiceStatusNotSent   InvoiceStatus = "not_sent"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// RecordKind distinguishes the two declarable record families.
type RecordKind string

const (
	RecordKindMovement RecordKind = "movement"
	RecordKindInvoice  RecordKind = "invoice"
)

func ParseRecordKind(s string) (RecordKind, error) {
	switch RecordKind(strings.ToLower(strings.TrimSpace(s))) {
	case RecordKindMovement:
		return RecordKindMovement, nil
	case RecordKindInvoice:
		return RecordKindInvoice, nil
	}
	return "", errors.New("record kind must be movement or invoice")
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/hankstore/ebms_backend/config"
	"golang.org/x/text/unicode/norm"
)

const (
	// SignatureDateLayout is the wire format OBR expects for signature dates.
	SignatureDateLayout = "2006-01-02 15:04:05"
	compactStampLayout  = "20060102150405"
)

var ErrMissingSignatureIdentity = errors.New("issuer TIN or system id missing for invoice signature")

// InvoiceSignature ties an invoice to its issuer, device, instant and number.
type InvoiceSignature struct {
	Identifier          string
	SignatureDate       string
	ElectronicSignature string
}

// BuildSignature computes the structured OBR identifier and its sha256
// digest. A zero or future ts falls back to the current instant: signatures
// are never post-dated. Missing issuer identity defaults to "UNKNOWN"
// unless STRICT_SIGNATURE_IDENTITY is set; invoice creation is deliberately
// never blocked on missing metadata in the permissive mode.
//
// Deterministic for a given (issuerTIN, systemId, invoiceNumber, ts); no I/O.
func BuildSignature(issuerTIN, systemId, invoiceNumber string, ts time.Time) (InvoiceSignature, error) {
	now := time.Now()
	if ts.IsZero() || ts.After(now) {
		ts = now
	}

	tin := strings.TrimSpace(issuerTIN)
	system := strings.TrimSpace(systemId)
	if tin == "" || system == "" {
		if config.StrictSignatureIdentity() {
			return InvoiceSignature{}, ErrMissingSignatureIdentity
		}
		if tin == "" {
			tin = "UNKNOWN"
		}
		if system == "" {
			system = "UNKNOWN"
		}
	}

	identifier := tin + "/" + system + "/" + ts.Format(compactStampLayout) + "/" + strings.TrimSpace(invoiceNumber)

	return InvoiceSignature{
		Identifier:          identifier,
		SignatureDate:       ts.Format(SignatureDateLayout),
		ElectronicSignature: hashIdentifier(identifier),
	}, nil
}

func hashIdentifier(identifier string) string {
	normalized := norm.NFKD.String(strings.TrimSpace(identifier))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ValidSignatureDate reports whether a caller-supplied signature date parses
// in the OBR wire format.
func ValidSignatureDate(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	_, err := time.Parse(SignatureDateLayout, s)
	return err == nil
}

package models_test

import (
	"testing"
	"time"

	"github.com/hankstore/ebms_backend/models"
)

func TestBuildSignatureIdentifierShape(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	sig, err := models.BuildSignature("1000012345", "DEV01", "INV-0007", ts)
	if err != nil {
		t.Fatalf("BuildSignature: %v", err)
	}

	wantIdentifier := "1000012345/DEV01/20240115100000/INV-0007"
	if sig.Identifier != wantIdentifier {
		t.Fatalf("identifier = %q, want %q", sig.Identifier, wantIdentifier)
	}
	if sig.SignatureDate != "2024-01-15 10:00:00" {
		t.Fatalf("signature date = %q", sig.SignatureDate)
	}
	// sha256 of the identifier above; pins the digest byte for byte so a
	// normalization or formatting regression cannot slip through.
	wantSignature := "cfdf5396df7fdf76b72938849d0ca9d64d1aa93d259f7e3246c20c00a7be6cc9"
	if sig.ElectronicSignature != wantSignature {
		t.Fatalf("electronic signature = %q, want %q", sig.ElectronicSignature, wantSignature)
	}
}

func TestBuildSignatureDeterministic(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	first, err := models.BuildSignature("1000012345", "DEV01", "INV-0007", ts)
	if err != nil {
		t.Fatalf("BuildSignature: %v", err)
	}
	second, err := models.BuildSignature("1000012345", "DEV01", "INV-0007", ts)
	if err != nil {
		t.Fatalf("BuildSignature: %v", err)
	}
	if first.ElectronicSignature != second.ElectronicSignature {
		t.Fatalf("same inputs produced different signatures: %q vs %q",
			first.ElectronicSignature, second.ElectronicSignature)
	}

	other, err := models.BuildSignature("1000012345", "DEV01", "INV-0008", ts)
	if err != nil {
		t.Fatalf("BuildSignature: %v", err)
	}
	if other.ElectronicSignature == first.ElectronicSignature {
		t.Fatal("different invoice numbers produced the same signature")
	}
}

func TestBuildSignatureFutureDateFallsBackToNow(t *testing.T) {
	future := time.Now().Add(48 * time.Hour)
	before := time.Now()
	sig, err := models.BuildSignature("1000012345", "DEV01", "INV-0009", future)
	if err != nil {
		t.Fatalf("BuildSignature: %v", err)
	}
	after := time.Now()

	got, err := time.ParseInLocation(models.SignatureDateLayout, sig.SignatureDate, time.Local)
	if err != nil {
		t.Fatalf("parse signature date %q: %v", sig.SignatureDate, err)
	}
	if got.Before(before.Truncate(time.Second)) || got.After(after.Add(time.Second)) {
		t.Fatalf("future timestamp was not replaced with now: %v", got)
	}
}

func TestBuildSignatureMissingIdentityDefaults(t *testing.T) {
	ts := time.Date(2024, 3, 1, 8, 30, 0, 0, time.Local)
	sig, err := models.BuildSignature("", "  ", "INV-0010", ts)
	if err != nil {
		t.Fatalf("BuildSignature: %v", err)
	}
	if sig.Identifier != "UNKNOWN/UNKNOWN/20240301083000/INV-0010" {
		t.Fatalf("identifier = %q", sig.Identifier)
	}
}

func TestBuildSignatureStrictIdentity(t *testing.T) {
	t.Setenv("STRICT_SIGNATURE_IDENTITY", "true")
	_, err := models.BuildSignature("", "DEV01", "INV-0011", time.Now())
	if err == nil {
		t.Fatal("expected error with strict identity and missing TIN")
	}
}

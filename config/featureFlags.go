package config

import (
	"os"
	"strings"
)

// StrictSignatureIdentity makes invoice signing refuse a missing issuer TIN
// or system id instead of defaulting them to "UNKNOWN". The permissive
// default keeps invoice creation unblocked when declaration metadata is not
// yet configured, at the cost of signatures that cannot be audited.
//
// Set via env:
// - STRICT_SIGNATURE_IDENTITY=true
func StrictSignatureIdentity() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_SIGNATURE_IDENTITY")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// DisableAutoDeclaration turns the background declaration dispatcher off.
// Records stay Pending until an operator retries them explicitly.
//
// Set via env:
// - DISABLE_AUTO_DECLARATION=true
func DisableAutoDeclaration() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DISABLE_AUTO_DECLARATION")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

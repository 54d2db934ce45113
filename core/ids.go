package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// NewProviderTxnID returns an alphanumeric reference safe to embed in a
// gateway URL or a bank transfer memo.
func NewProviderTxnID() string {
	return "CL" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
}

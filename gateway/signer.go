package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Signer computes HMACs over a canonical field list: keys sorted
// ascending, "key=value" pairs joined by "&", values query-escaped.
type Signer struct {
	secret []byte
	newH   func() hash.Hash
}

// NewSHA512Signer is used by the redirect gateway.
func NewSHA512Signer(secret string) *Signer {
	return &Signer{secret: []byte(secret), newH: sha512.New}
}

// NewSHA256Signer is used by the bank webhook.
func NewSHA256Signer(secret string) *Signer {
	return &Signer{secret: []byte(secret), newH: sha256.New}
}

// Canonical renders fields in signing order. Empty values are skipped.
func Canonical(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = url.QueryEscape(k) + "=" + url.QueryEscape(fields[k])
	}
	return strings.Join(parts, "&")
}

// Sign returns the lowercase hex HMAC of the canonical form of fields.
func (s *Signer) Sign(fields map[string]string) string {
	return s.SignString(Canonical(fields))
}

// SignString returns the lowercase hex HMAC of data.
func (s *Signer) SignString(data string) string {
	mac := hmac.New(s.newH, s.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the HMAC and compares in constant time.
func (s *Signer) Verify(fields map[string]string, signature string) bool {
	want, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil || len(want) == 0 {
		return false
	}
	got, _ := hex.DecodeString(s.Sign(fields))
	return hmac.Equal(got, want)
}

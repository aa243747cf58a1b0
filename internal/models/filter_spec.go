package models

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// FilterSpec is a compiled, HMAC-signed WHERE fragment plus its human
// summary. The signature binds the fragment to the source signature it was
// compiled against; the data gateway refuses unsigned or mis-signed specs.
type FilterSpec struct {
	SourceSignature string `json:"source_signature"`
	Where           string `json:"where"`   // Sanitized, canonicalized WHERE fragment
	Summary         string `json:"summary"` // Free-text description shown to the user
	Signature       string `json:"signature"`
}

// CanonicalSerialization is the byte sequence the HMAC signature covers.
// The same (source signature, where) pair always serializes identically, so
// recompiling the same command against the same source yields the same
// signature.
func (f *FilterSpec) CanonicalSerialization() []byte {
	out := make([]byte, 0, len(f.SourceSignature)+len(f.Where)+1)
	out = append(out, f.SourceSignature...)
	out = append(out, '\n')
	out = append(out, f.Where...)
	return out
}

// Sign computes and stores the HMAC-SHA256 signature over the canonical
// serialization using the process filter secret.
func (f *FilterSpec) Sign(secret []byte) {
	mac := hmac.New(sha256.New, secret)
	mac.Write(f.CanonicalSerialization())
	f.Signature = hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the stored signature matches the canonical
// serialization under the given secret. Constant-time comparison.
func (f *FilterSpec) Verify(secret []byte) bool {
	if f.Signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(f.CanonicalSerialization())
	want := mac.Sum(nil)
	got, err := hex.DecodeString(f.Signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// SchemaColumn describes one column of the active data source
type SchemaColumn struct {
	Name string `json:"name"`
	Type string `json:"type"` // "text", "integer", "real"
}

// SourceInfo identifies the active data source. Signature is a stable
// fingerprint of the source identity + schema; jobs record it at compile
// time and refuse to execute when it drifts.
type SourceInfo struct {
	Type      string `json:"type"` // "csv", "excel", "database", ...
	Signature string `json:"signature"`
	RowCount  int    `json:"row_count"`
}

// SourceRow is one raw row fetched from the data source
type SourceRow struct {
	RowNumber int                    `json:"row_number"`
	Fields    map[string]interface{} `json:"fields"`
}

// Checksum returns the SHA-256 hex digest of the row's canonical JSON:
// fields serialized with sorted keys. Computed at fetch time, never mutated.
func (r *SourceRow) Checksum() string {
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(r.Fields[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

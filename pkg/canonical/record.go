/*
Copyright 2026 Zestminds.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package canonical defines the record shape produced by connectors and
// consumed by the ingestion engine, together with the deterministic content
// fingerprint used for change detection.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// MaxSourceKeyLen bounds the unique external identifier.
	MaxSourceKeyLen = 255

	// MaxEntityNameLen bounds both the raw and normalized entity names.
	MaxEntityNameLen = 255
)

var regionPattern = regexp.MustCompile(`^[A-Z]{2}$`)

// Record is the canonical regulatory item handed from a connector to the
// ingestion engine. PublishedAt is kept verbatim as received: the fingerprint
// hashes it unreformatted, so producers must serialize instants consistently.
// RawJSON carries the unmodified source row and never participates in the
// fingerprint.
type Record struct {
	SourceKey      string          `json:"source_key"`
	PublishedAt    string          `json:"published_at"`
	Title          string          `json:"title"`
	EntityNameRaw  string          `json:"entity_name_raw"`
	EntityNameNorm string          `json:"entity_name_norm"`
	Region         string          `json:"region"`
	RecordID       string          `json:"record_id"`
	Status         string          `json:"status"`
	DocumentURL    string          `json:"document_url,omitempty"`
	RawJSON        json.RawMessage `json:"raw_json,omitempty"`
}

// Normalize lowercases and trims outer whitespace. Diacritics, punctuation
// and inner whitespace are left untouched; matching is exact-after-lowercase.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Fingerprint computes the SHA-256 hex digest over the canonical field tuple.
// Serialization: key:value pairs joined with "|", keys in lexicographic
// order, empty string (not a null marker) for a missing document_url.
// PublishedAt is hashed exactly as received.
func Fingerprint(r Record) string {
	// Keys listed in lexicographic order.
	pairs := []struct {
		key   string
		value string
	}{
		{"document_url", r.DocumentURL},
		{"entity_name_norm", r.EntityNameNorm},
		{"entity_name_raw", r.EntityNameRaw},
		{"published_at", r.PublishedAt},
		{"record_id", r.RecordID},
		{"region", r.Region},
		{"source_key", r.SourceKey},
		{"status", r.Status},
		{"title", r.Title},
	}

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(p.key)
		b.WriteByte(':')
		b.WriteString(p.value)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// publishedAtLayouts lists the accepted instant serializations, most specific
// first. The minute-precision layout covers feeds that omit seconds.
var publishedAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParsePublishedAt parses the verbatim published_at string into an instant.
// Layouts without a zone are interpreted as UTC.
func ParsePublishedAt(s string) (time.Time, error) {
	for _, layout := range publishedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized published_at value %q", s)
}

// ValidateRecord checks the canonical invariants and returns one reason per
// violated constraint, or nil when the record is well formed. Callers decide
// how to surface the reasons; the engine concatenates them per record index.
func ValidateRecord(r Record) []string {
	var reasons []string

	required := []struct {
		name  string
		value string
	}{
		{"source_key", r.SourceKey},
		{"published_at", r.PublishedAt},
		{"title", r.Title},
		{"entity_name_raw", r.EntityNameRaw},
		{"entity_name_norm", r.EntityNameNorm},
		{"region", r.Region},
		{"record_id", r.RecordID},
		{"status", r.Status},
	}
	for _, f := range required {
		if f.value == "" {
			reasons = append(reasons, f.name+" is required")
		}
	}

	if len(r.SourceKey) > MaxSourceKeyLen {
		reasons = append(reasons, fmt.Sprintf("source_key exceeds %d characters", MaxSourceKeyLen))
	}
	if len(r.EntityNameRaw) > MaxEntityNameLen {
		reasons = append(reasons, fmt.Sprintf("entity_name_raw exceeds %d characters", MaxEntityNameLen))
	}
	if len(r.EntityNameNorm) > MaxEntityNameLen {
		reasons = append(reasons, fmt.Sprintf("entity_name_norm exceeds %d characters", MaxEntityNameLen))
	}
	if r.PublishedAt != "" {
		if _, err := ParsePublishedAt(r.PublishedAt); err != nil {
			reasons = append(reasons, fmt.Sprintf("published_at %q is not a recognized timestamp", r.PublishedAt))
		}
	}
	if r.Region != "" && !regionPattern.MatchString(r.Region) {
		reasons = append(reasons, fmt.Sprintf("region %q must be a two-letter uppercase code", r.Region))
	}

	return reasons
}

package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration without invalidating stored hashes.
const (
	DomainAudit    = "procurekit/audit/v1"
	DomainSnapshot = "procurekit/snapshot/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// AuditFingerprint computes the integrity fingerprint for an audit entry.
// The fingerprint covers the entity identity, the action, and the full
// entry contents in canonical form. Recomputing it over a stored entry and
// comparing is the tamper check; any mismatch is an IntegrityError.
//
// The entry's own Fingerprint field is excluded from the input.
func AuditFingerprint(t Type, entityID string, entry AuditEntry) (string, error) {
	details := entry.Details
	if details == nil {
		details = map[string]string{}
	}
	obj := map[string]any{
		"entity_type": string(t),
		"entity_id":   entityID,
		"seq":         entry.Seq,
		"action":      entry.Action,
		"actor":       entry.Actor,
		"timestamp":   entry.Timestamp.UTC().Format(time.RFC3339Nano),
		"details":     details,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("AuditFingerprint: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainAudit, canonical), nil
}

package custody

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Genesis is hashed in place of an absent predecessor signature.
const Genesis = "genesis"

// TimestampLayout is the signed timestamp format: UTC, millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Link is one approved transfer as bound into the signature chain.
type Link struct {
	EvidenceID string
	FromUserID string
	ToUserID   string
	Timestamp  time.Time
	Previous   string
}

// signPayload is exactly what we hash. Field order is fixed and there are
// no maps, so the encoding is deterministic.
type signPayload struct {
	EvidenceID string `json:"evidence_id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Timestamp  string `json:"timestamp"`
	Previous   string `json:"previous"`
}

// Sign computes the chain signature of l as a hex SHA-256 digest.
func Sign(l Link) string {
	prev := l.Previous
	if prev == "" {
		prev = Genesis
	}
	p := signPayload{
		EvidenceID: l.EvidenceID,
		FromUserID: l.FromUserID,
		ToUserID:   l.ToUserID,
		Timestamp:  FormatTimestamp(l.Timestamp),
		Previous:   prev,
	}

	// signPayload holds only strings; Marshal cannot fail.
	b, _ := json.Marshal(p)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// normalizeTime drops precision the signature does not cover, so a stored
// and reloaded timestamp signs identically.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

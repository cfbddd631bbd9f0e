// Package feed contains the inbound social-feed model: casts published on
// the network, identified by their content hash. Casts are immutable inputs
// to the processing pipeline; nothing in this package mutates them.
package feed

import (
	"fmt"
	"strings"
	"time"
)

// CastHash is the globally unique content hash of a cast, used as the
// idempotency key throughout the pipeline. The canonical form is "0x"
// followed by 40 lowercase hex characters.
type CastHash string

const hashHexLen = 40

// NewCastHash normalizes and validates a raw hash string.
func NewCastHash(raw string) (CastHash, error) {
	h := CastHash(strings.ToLower(strings.TrimSpace(raw)))
	if err := h.Validate(); err != nil {
		return "", err
	}
	return h, nil
}

// Validate checks the canonical "0x" + 40 hex form.
func (h CastHash) Validate() error {
	s := string(h)
	if len(s) != hashHexLen+2 || !strings.HasPrefix(s, "0x") {
		return InvalidCastHashError{Hash: s}
	}
	for _, c := range s[2:] {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return InvalidCastHashError{Hash: s}
		}
	}
	return nil
}

// String returns the canonical string form of the hash.
func (h CastHash) String() string { return string(h) }

// InvalidCastHashError indicates a cast hash that does not conform to the
// canonical form. Events carrying one are rejected before any record is
// created.
type InvalidCastHashError struct{ Hash string }

func (e InvalidCastHashError) Error() string {
	return fmt.Sprintf("invalid cast hash %q", e.Hash)
}

// Embed is a media attachment referenced by a cast.
type Embed struct {
	URL string `json:"url"`
}

// Cast is a single "cast created" feed event. The webhook receiver and the
// backfill seeder both produce this shape; the pipeline never distinguishes
// where a cast came from.
type Cast struct {
	Hash       CastHash  `json:"hash"`
	FID        int64     `json:"fid"`
	Text       string    `json:"text"`
	Embeds     []Embed   `json:"embeds,omitempty"`
	ParentHash CastHash  `json:"parent_hash,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// IsReply reports whether the cast replies to another cast. Replies are
// excluded from workout processing.
func (c Cast) IsReply() bool { return c.ParentHash != "" }

// ImageURLs returns the embedded media URLs in feed order.
func (c Cast) ImageURLs() []string {
	if len(c.Embeds) == 0 {
		return nil
	}
	urls := make([]string, 0, len(c.Embeds))
	for _, e := range c.Embeds {
		if e.URL != "" {
			urls = append(urls, e.URL)
		}
	}
	return urls
}

// Validate checks the structural eligibility of a cast for submission.
func (c Cast) Validate() error {
	if err := c.Hash.Validate(); err != nil {
		return err
	}
	if c.FID <= 0 {
		return fmt.Errorf("cast %s has invalid fid %d", c.Hash, c.FID)
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("cast %s has no timestamp", c.Hash)
	}
	return nil
}

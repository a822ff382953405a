// Package catalog provides the channel catalog and resolver. Channels come
// from two sources: a seeded static lineup keyed by id, and guide-imported
// local channels keyed by number.
package catalog

import (
	"strings"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Channel source values.
const (
	SourceStatic = "static"
	SourceGuide  = "guide"
)

// Channel is an immutable catalog record.
type Channel struct {
	// RecordID is the database primary key.
	RecordID string `gorm:"primaryKey;column:record_id" json:"-"`
	// ID is the caller-facing channel identifier (e.g. "NBC-E").
	ID string `gorm:"uniqueIndex;column:channel_id" json:"id"`
	// Number is the channel number as displayed in the guide. It may be
	// zero-padded (e.g. "05").
	Number string `gorm:"index" json:"number"`
	// DisplayName is the channel name as displayed in the guide.
	DisplayName string `json:"display_name"`
	// Terms is the ordered match-term list, stored pipe-separated.
	Terms string `json:"-"`
	// Source is "static" or "guide".
	Source string `gorm:"index" json:"source"`
}

// TableName sets the gorm table name.
func (Channel) TableName() string { return "channels" }

// BeforeCreate assigns a ULID primary key when missing.
func (c *Channel) BeforeCreate(_ *gorm.DB) error {
	if c.RecordID == "" {
		c.RecordID = ulid.Make().String()
	}
	return nil
}

// MatchTerms returns the ordered match-term list.
func (c *Channel) MatchTerms() []string {
	if c.Terms == "" {
		return nil
	}
	parts := strings.Split(c.Terms, "|")
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			terms = append(terms, p)
		}
	}
	return terms
}

// SetMatchTerms stores the ordered match-term list.
func (c *Channel) SetMatchTerms(terms []string) {
	c.Terms = strings.Join(terms, "|")
}

// PaddedNumber returns the number zero-padded to at least two digits.
func (c *Channel) PaddedNumber() string {
	n := strings.TrimSpace(c.Number)
	if len(n) == 1 {
		return "0" + n
	}
	return n
}

// RawNumber returns the number with leading zeros stripped.
func (c *Channel) RawNumber() string {
	n := strings.TrimLeft(strings.TrimSpace(c.Number), "0")
	if n == "" {
		return "0"
	}
	return n
}

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Record is a contact page as held by the CRM database.
type Record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phones       []string  `json:"phones,omitempty"`
	Addresses    []string  `json:"addresses,omitempty"`
	Emails       []string  `json:"emails,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastEditedAt time.Time `json:"last_edited_at"`
	Archived     bool      `json:"archived"`
}

// Cursor is an opaque pagination token handed out by the remote store.
type Cursor string

// Identity key prefixes.
const (
	KeyPrefixPhone   = "phone:"
	KeyPrefixContact = "contact:"
)

// NormalizePhone strips everything but digits and a leading plus sign.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}

// NormalizeText folds case, applies NFKC and collapses whitespace so that
// "  Іван   ПЕТРЕНКО" and "іван петренко" compare equal.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// PrimaryPhone returns the first non-empty normalized phone number.
func (r Record) PrimaryPhone() string {
	for _, p := range r.Phones {
		if n := NormalizePhone(p); n != "" {
			return n
		}
	}
	return ""
}

// PrimaryAddress returns the first non-empty normalized address.
func (r Record) PrimaryAddress() string {
	for _, a := range r.Addresses {
		if n := NormalizeText(a); n != "" {
			return n
		}
	}
	return ""
}

// IdentityKey returns the grouping key of the record: its primary phone, or
// a hash over name and primary address. Without a phone both the name and
// the address are required; otherwise the key is empty and the record does
// not take part in duplicate detection.
func (r Record) IdentityKey() string {
	if phone := r.PrimaryPhone(); phone != "" {
		return KeyPrefixPhone + phone
	}
	name := NormalizeText(r.Name)
	addr := r.PrimaryAddress()
	if name == "" || addr == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(name + "|" + addr))
	return KeyPrefixContact + hex.EncodeToString(sum[:])
}

// Fingerprint is a stable hash over the normalized mutable content of the
// record. Ordering of phones, addresses and emails does not matter.
func (r Record) Fingerprint() string {
	phones := make([]string, 0, len(r.Phones))
	for _, p := range r.Phones {
		if n := NormalizePhone(p); n != "" {
			phones = append(phones, n)
		}
	}
	addrs := make([]string, 0, len(r.Addresses))
	for _, a := range r.Addresses {
		if n := NormalizeText(a); n != "" {
			addrs = append(addrs, n)
		}
	}
	emails := make([]string, 0, len(r.Emails))
	for _, e := range r.Emails {
		if n := strings.ToLower(strings.TrimSpace(e)); n != "" {
			emails = append(emails, n)
		}
	}
	slices.Sort(phones)
	slices.Sort(addrs)
	slices.Sort(emails)

	content := strings.Join([]string{
		"name:" + NormalizeText(r.Name),
		"phones:" + strings.Join(phones, ","),
		"addresses:" + strings.Join(addrs, ","),
		"emails:" + strings.Join(emails, ","),
	}, "|")
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Newer reports whether r sorts before other in canonical order: most
// recently edited first, ties broken by ascending ID.
func (r Record) Newer(other Record) bool {
	if !r.LastEditedAt.Equal(other.LastEditedAt) {
		return r.LastEditedAt.After(other.LastEditedAt)
	}
	return r.ID < other.ID
}

// CompareCanonical is a three-way comparison following Newer, suitable for
// slices.SortFunc.
func CompareCanonical(a, b Record) int {
	switch {
	case a.Newer(b):
		return -1
	case b.Newer(a):
		return 1
	default:
		return 0
	}
}

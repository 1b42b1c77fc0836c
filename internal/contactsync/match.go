package contactsync

import (
	"strings"

	"github.com/sells-group/crm-dedup/internal/model"
)

// phoneKeyDigits is how many trailing digits identify a phone number, so
// "+380 67 111 22 33" and "067 111 22 33" compare equal.
const phoneKeyDigits = 10

// PhoneKey returns the trailing digits of a phone number, or "" when it
// holds no digits.
func PhoneKey(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > phoneKeyDigits {
		digits = digits[len(digits)-phoneKeyDigits:]
	}
	return digits
}

// directory indexes contacts by phone key and normalized name.
type directory struct {
	phones map[string]struct{}
	names  map[string]struct{}
}

func newDirectory(records []model.Record) *directory {
	d := &directory{
		phones: make(map[string]struct{}, len(records)),
		names:  make(map[string]struct{}, len(records)),
	}
	for _, r := range records {
		d.add(r)
	}
	return d
}

func (d *directory) add(r model.Record) {
	for _, p := range r.Phones {
		if k := PhoneKey(p); k != "" {
			d.phones[k] = struct{}{}
		}
	}
	if n := model.NormalizeText(r.Name); n != "" {
		d.names[n] = struct{}{}
	}
}

// has reports whether r is already present. A contact with a phone is
// matched on its phones only, so two people sharing a first name are kept
// apart; a contact without a phone is matched on its name.
func (d *directory) has(r model.Record) bool {
	phones := 0
	for _, p := range r.Phones {
		k := PhoneKey(p)
		if k == "" {
			continue
		}
		phones++
		if _, ok := d.phones[k]; ok {
			return true
		}
	}
	if phones > 0 {
		return false
	}
	_, ok := d.names[model.NormalizeText(r.Name)]
	return ok
}

// Missing returns the contacts absent from existing, in input order. A
// contact listed twice is returned once. Contacts with neither a name, a
// phone nor an e-mail are skipped; a nameless contact is named after its
// first phone or e-mail.
func Missing(existing, contacts []model.Record) []model.Record {
	dir := newDirectory(existing)
	var out []model.Record
	for _, c := range contacts {
		c = withDisplayName(c)
		if c.Name == "" || dir.has(c) {
			continue
		}
		out = append(out, c)
		dir.add(c)
	}
	return out
}

func withDisplayName(c model.Record) model.Record {
	c.Name = strings.TrimSpace(c.Name)
	switch {
	case c.Name != "":
	case len(c.Phones) > 0:
		c.Name = c.Phones[0]
	case len(c.Emails) > 0:
		c.Name = c.Emails[0]
	}
	return c
}

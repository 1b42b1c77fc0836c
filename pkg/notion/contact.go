package notion

import (
	"strings"

	"github.com/jomei/notionapi"

	"github.com/sells-group/crm-dedup/internal/model"
)

// PropertyMap names the CRM database properties read into a contact record.
// Each field lists candidate property names tried in order; the first one
// present on the page wins.
type PropertyMap struct {
	Title   []string
	Phone   []string
	Address []string
	Email   []string
}

// DefaultPropertyMap matches the CRM database layout, including the
// Ukrainian column names used by the sales team.
func DefaultPropertyMap() PropertyMap {
	return PropertyMap{
		Title:   []string{"Name", "Ім'я"},
		Phone:   []string{"Phone", "phone", "Phone Number", "PhoneNumber", "Телефон"},
		Address: []string{"Address", "City", "Адреса", "Місто"},
		Email:   []string{"Email", "E-mail", "Пошта"},
	}
}

// withDefaults fills empty candidate lists from DefaultPropertyMap.
func (m PropertyMap) withDefaults() PropertyMap {
	def := DefaultPropertyMap()
	if len(m.Title) == 0 {
		m.Title = def.Title
	}
	if len(m.Phone) == 0 {
		m.Phone = def.Phone
	}
	if len(m.Address) == 0 {
		m.Address = def.Address
	}
	if len(m.Email) == 0 {
		m.Email = def.Email
	}
	return m
}

// PageToRecord converts a Notion page into a contact record.
func PageToRecord(page *notionapi.Page, props PropertyMap) model.Record {
	props = props.withDefaults()
	rec := model.Record{
		ID:           string(page.ID),
		Name:         pageTitle(page.Properties, props.Title),
		CreatedAt:    page.CreatedTime,
		LastEditedAt: page.LastEditedTime,
		Archived:     page.Archived,
	}

	for _, raw := range valuesOf(page.Properties, props.Phone) {
		for _, part := range splitMulti(raw) {
			if n := model.NormalizePhone(part); n != "" {
				rec.Phones = appendUnique(rec.Phones, n)
			}
		}
	}
	for _, raw := range valuesOf(page.Properties, props.Address) {
		if a := strings.TrimSpace(raw); a != "" {
			rec.Addresses = appendUnique(rec.Addresses, a)
		}
	}
	for _, raw := range valuesOf(page.Properties, props.Email) {
		for _, part := range splitMulti(raw) {
			if e := strings.TrimSpace(part); e != "" {
				rec.Emails = appendUnique(rec.Emails, e)
			}
		}
	}
	return rec
}

// pageTitle returns the text of the first matching title property, falling
// back to any title-typed property on the page.
func pageTitle(properties notionapi.Properties, names []string) string {
	for _, name := range names {
		if p, ok := properties[name].(*notionapi.TitleProperty); ok {
			return strings.TrimSpace(joinRichText(p.Title))
		}
	}
	for _, prop := range properties {
		if p, ok := prop.(*notionapi.TitleProperty); ok {
			return strings.TrimSpace(joinRichText(p.Title))
		}
	}
	return ""
}

// valuesOf collects the text values of every candidate property present on
// the page. Several candidates may be present at once (e.g. "Address" and
// "City"), so all of them are returned in candidate order.
func valuesOf(properties notionapi.Properties, names []string) []string {
	var out []string
	for _, name := range names {
		prop, ok := properties[name]
		if !ok {
			continue
		}
		if v := PropertyText(prop); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// PropertyText extracts the plain-text value of the property types that can
// hold contact details. Unsupported types yield "".
func PropertyText(prop notionapi.Property) string {
	switch p := prop.(type) {
	case *notionapi.TitleProperty:
		return joinRichText(p.Title)
	case *notionapi.RichTextProperty:
		return joinRichText(p.RichText)
	case *notionapi.PhoneNumberProperty:
		return p.PhoneNumber
	case *notionapi.EmailProperty:
		return p.Email
	case *notionapi.URLProperty:
		return p.URL
	case *notionapi.SelectProperty:
		return p.Select.Name
	case *notionapi.MultiSelectProperty:
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			names = append(names, o.Name)
		}
		return strings.Join(names, ", ")
	default:
		return ""
	}
}

func joinRichText(parts []notionapi.RichText) string {
	var b strings.Builder
	for _, rt := range parts {
		b.WriteString(rt.PlainText)
	}
	return b.String()
}

// splitMulti splits a free-text cell holding several values, e.g.
// "+380 67 111 22 33; +380 50 444 55 66".
func splitMulti(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ';', '/', '\n', '\r':
			return true
		}
		return false
	})
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

package notion

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedup/internal/model"
)

// ErrNoTitleProperty is returned when the database has no title column to
// hold the contact name.
var ErrNoTitleProperty = eris.New("notion: database has no title property")

// CreateContact adds a contact page to the database and returns its ID.
// Values are written to the first candidate column of the matching type;
// phones, e-mails and addresses without a suitable column are dropped.
func (s *ContactSource) CreateContact(ctx context.Context, rec model.Record) (string, error) {
	schema, err := s.loadSchema(ctx)
	if err != nil {
		return "", err
	}
	props, err := contactProperties(schema, s.props, rec)
	if err != nil {
		return "", err
	}

	page, err := s.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.databaseID),
		},
		Properties: props,
	})
	if err != nil {
		return "", err
	}
	if page == nil {
		return "", eris.Wrap(ErrMalformedResponse, "notion: empty page after create")
	}
	return string(page.ID), nil
}

// loadSchema fetches the database columns once per source.
func (s *ContactSource) loadSchema(ctx context.Context) (notionapi.PropertyConfigs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema != nil {
		return s.schema, nil
	}
	db, err := s.client.GetDatabase(ctx, s.databaseID)
	if err != nil {
		return nil, err
	}
	if db == nil || db.Properties == nil {
		return nil, eris.Wrap(ErrMalformedResponse, fmt.Sprintf("notion: database %s has no properties", s.databaseID))
	}
	s.schema = db.Properties
	return s.schema, nil
}

func contactProperties(schema notionapi.PropertyConfigs, m PropertyMap, rec model.Record) (notionapi.Properties, error) {
	title := column(schema, m.Title, notionapi.PropertyConfigTypeTitle)
	if title == "" {
		for name, cfg := range schema {
			if cfg != nil && cfg.GetType() == notionapi.PropertyConfigTypeTitle {
				title = name
				break
			}
		}
	}
	if title == "" {
		return nil, ErrNoTitleProperty
	}

	props := notionapi.Properties{
		title: &notionapi.TitleProperty{Title: textValue(rec.Name)},
	}
	if phone := rec.PrimaryPhone(); phone != "" {
		if name := column(schema, m.Phone, notionapi.PropertyConfigTypePhoneNumber, notionapi.PropertyConfigTypeRichText); name != "" {
			props[name] = valueFor(schema[name].GetType(), phone)
		}
	}
	if len(rec.Emails) > 0 {
		if name := column(schema, m.Email, notionapi.PropertyConfigTypeEmail, notionapi.PropertyConfigTypeRichText); name != "" {
			props[name] = valueFor(schema[name].GetType(), rec.Emails[0])
		}
	}
	if len(rec.Addresses) > 0 {
		if name := column(schema, m.Address, notionapi.PropertyConfigTypeRichText); name != "" {
			props[name] = valueFor(schema[name].GetType(), rec.Addresses[0])
		}
	}
	return props, nil
}

// column returns the first candidate present in schema with one of the
// accepted types.
func column(schema notionapi.PropertyConfigs, candidates []string, types ...notionapi.PropertyConfigType) string {
	for _, name := range candidates {
		cfg, ok := schema[name]
		if !ok || cfg == nil {
			continue
		}
		for _, t := range types {
			if cfg.GetType() == t {
				return name
			}
		}
	}
	return ""
}

func valueFor(t notionapi.PropertyConfigType, v string) notionapi.Property {
	switch t {
	case notionapi.PropertyConfigTypePhoneNumber:
		return &notionapi.PhoneNumberProperty{PhoneNumber: v}
	case notionapi.PropertyConfigTypeEmail:
		return &notionapi.EmailProperty{Email: v}
	default:
		return &notionapi.RichTextProperty{RichText: textValue(v)}
	}
}

func textValue(s string) []notionapi.RichText {
	s = strings.TrimSpace(s)
	return []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}, PlainText: s}}
}

package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-dedup/internal/model"
)

func crmDatabase() *notionapi.Database {
	return &notionapi.Database{
		Properties: notionapi.PropertyConfigs{
			"Ім'я":    &notionapi.TitlePropertyConfig{Type: notionapi.PropertyConfigTypeTitle},
			"Телефон": &notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
			"Email":   &notionapi.EmailPropertyConfig{Type: notionapi.PropertyConfigTypeEmail},
			"Місто":   &notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
			"Stage":   &notionapi.SelectPropertyConfig{Type: notionapi.PropertyConfigTypeSelect},
		},
	}
}

func TestContactSource_CreateContact(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	src := NewContactSource(mc, "db-123", PropertyMap{})

	mc.On("GetDatabase", ctx, "db-123").Return(crmDatabase(), nil).Once()

	var created []*notionapi.PageCreateRequest
	mc.On("CreatePage", ctx, mock.Anything).Run(func(args mock.Arguments) {
		created = append(created, args.Get(1).(*notionapi.PageCreateRequest))
	}).Return(&notionapi.Page{ID: "new-1"}, nil)

	id, err := src.CreateContact(ctx, model.Record{
		Name:      "Олена Коваль",
		Phones:    []string{"+380671112233"},
		Emails:    []string{"olena@example.com"},
		Addresses: []string{"Вінниця"},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)

	_, err = src.CreateContact(ctx, model.Record{Name: "Іван"})
	require.NoError(t, err)
	mc.AssertExpectations(t)

	require.Len(t, created, 2)
	req := created[0]
	assert.Equal(t, notionapi.DatabaseID("db-123"), req.Parent.DatabaseID)
	assert.Equal(t, "Олена Коваль", PropertyText(req.Properties["Ім'я"]))
	assert.Equal(t, "+380671112233", PropertyText(req.Properties["Телефон"]))
	assert.IsType(t, &notionapi.RichTextProperty{}, req.Properties["Телефон"])
	assert.IsType(t, &notionapi.EmailProperty{}, req.Properties["Email"])
	assert.Equal(t, "Вінниця", PropertyText(req.Properties["Місто"]))
	assert.NotContains(t, req.Properties, "Stage")

	assert.Len(t, created[1].Properties, 1, "only the title when nothing else is known")
}

func TestContactSource_CreateContact_PhoneColumnType(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	src := NewContactSource(mc, "db-123", PropertyMap{})

	mc.On("GetDatabase", ctx, "db-123").Return(&notionapi.Database{
		Properties: notionapi.PropertyConfigs{
			"Name":  &notionapi.TitlePropertyConfig{Type: notionapi.PropertyConfigTypeTitle},
			"Phone": &notionapi.PhoneNumberPropertyConfig{Type: notionapi.PropertyConfigTypePhoneNumber},
		},
	}, nil)
	mc.On("CreatePage", ctx, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		p, ok := req.Properties["Phone"].(*notionapi.PhoneNumberProperty)
		return ok && p.PhoneNumber == "+380501234567"
	})).Return(&notionapi.Page{ID: "new-2"}, nil)

	id, err := src.CreateContact(ctx, model.Record{Name: "Петро", Phones: []string{"+380501234567"}})
	require.NoError(t, err)
	assert.Equal(t, "new-2", id)
	mc.AssertExpectations(t)
}

func TestContactSource_CreateContact_NoTitleColumn(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	src := NewContactSource(mc, "db-123", PropertyMap{})

	mc.On("GetDatabase", ctx, "db-123").Return(&notionapi.Database{
		Properties: notionapi.PropertyConfigs{
			"Phone": &notionapi.PhoneNumberPropertyConfig{Type: notionapi.PropertyConfigTypePhoneNumber},
		},
	}, nil)

	_, err := src.CreateContact(ctx, model.Record{Name: "Петро"})
	assert.ErrorIs(t, err, ErrNoTitleProperty)
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestContactSource_CreateContact_SchemaError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()
	src := NewContactSource(mc, "db-123", PropertyMap{})

	mc.On("GetDatabase", ctx, "db-123").Return(nil, assert.AnError)

	_, err := src.CreateContact(ctx, model.Record{Name: "Петро"})
	assert.ErrorIs(t, err, assert.AnError)
}

package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-dedup/internal/model"
	"github.com/sells-group/crm-dedup/pkg/geocode"
)

type fakeGeocoder struct {
	queries []string
	err     error
}

func (f *fakeGeocoder) Geocode(_ context.Context, q string) (*geocode.Result, error) {
	return &geocode.Result{Query: q}, nil
}

func (f *fakeGeocoder) BatchGeocode(_ context.Context, queries []string) ([]geocode.Result, error) {
	f.queries = queries
	if f.err != nil {
		return nil, f.err
	}
	out := make([]geocode.Result, len(queries))
	for i, q := range queries {
		out[i] = geocode.Result{Query: q, Matched: q != "Nowhere"}
		if q == "Bad" {
			out[i] = geocode.Result{Query: q, Err: "geocode: google status INVALID_REQUEST"}
		}
	}
	return out, nil
}

func TestGeocodeContacts(t *testing.T) {
	records := []model.Record{
		{ID: "1", Name: "A", Addresses: []string{"  ", " Київ, Хрещатик 1 "}},
		{ID: "2", Name: "B"},
		{ID: "3", Name: "C", Addresses: []string{"Одеса"}, Archived: true},
		{ID: "4", Name: "D", Addresses: []string{"Nowhere"}},
		{ID: "5", Name: "E", Addresses: []string{"Bad"}},
	}
	g := &fakeGeocoder{}

	located, err := geocodeContacts(context.Background(), g, records)
	require.NoError(t, err)

	assert.Equal(t, []string{"Київ, Хрещатик 1", "Nowhere", "Bad"}, g.queries)
	require.Len(t, located, 3)
	assert.Equal(t, "1", located[0].RecordID)
	assert.Equal(t, "A", located[0].Name)
	assert.True(t, located[0].Result.Matched)
	assert.Equal(t, "4", located[1].RecordID)

	matched, failed := countLocated(located)
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, failed)
}

func TestGeocodeContacts_NoAddresses(t *testing.T) {
	g := &fakeGeocoder{}
	located, err := geocodeContacts(context.Background(), g, []model.Record{{ID: "1"}})
	require.NoError(t, err)
	assert.Empty(t, located)
	assert.NotNil(t, located)
	assert.Nil(t, g.queries, "nothing to geocode")
}

func TestGeocodeContacts_Error(t *testing.T) {
	g := &fakeGeocoder{err: errors.New("context canceled")}
	_, err := geocodeContacts(context.Background(), g, []model.Record{{ID: "1", Addresses: []string{"Львів"}}})
	assert.Error(t, err)
}

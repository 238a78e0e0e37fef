package geocoder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeocodeParsesNominatimResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Tokyo", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"display_name": "Tokyo, Japan",
			"lat": "35.6762",
			"lon": "139.6503",
			"osm_type": "relation",
			"importance": 0.9,
			"address": {"country": "Japan", "country_code": "jp", "city": "Tokyo"}
		}]`))
	}))
	defer server.Close()

	client := New(server.URL, "kgraphrag-test")
	res, err := client.Geocode(context.Background(), "Tokyo")
	require.NoError(t, err)

	assert.Equal(t, "Tokyo, Japan", res.Lieu)
	assert.Equal(t, "Japan", res.Pays)
	assert.Equal(t, "jp", res.CodePays)
	assert.Equal(t, "Tokyo", res.Commune)
	assert.InDelta(t, 35.6762, res.Latitude, 0.001)
	assert.InDelta(t, 139.6503, res.Longitude, 0.001)
	assert.Equal(t, "relation", res.OSMType)
}

func TestGeocodeNoResultIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	_, err := New(server.URL, "").Geocode(context.Background(), "Nowhere-at-all")
	assert.Error(t, err, "merge treats this as non-fatal, but the collaborator reports it")
}

func TestGeocodeBadStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := New(server.URL, "").Geocode(context.Background(), "Tokyo")
	assert.Error(t, err)
}

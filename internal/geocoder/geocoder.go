// Package geocoder is the optional place-name resolver collaborator. It
// talks to a Nominatim-compatible HTTP endpoint; failures are non-fatal by
// contract, the merge engine leaves descriptions unenriched when a lookup
// errors.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Result mirrors the geocoder collaborator's response shape.
type Result struct {
	Lieu        string  `json:"lieu"`
	Pays        string  `json:"pays"`
	CodePays    string  `json:"code_pays"`
	Region      string  `json:"region"`
	Province    string  `json:"province"`
	Departement string  `json:"departement"`
	Commune     string  `json:"commune"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	OSMType     string  `json:"osm_type"`
	Importance  float64 `json:"importance"`
}

// Func is the collaborator signature the merge engine consumes.
type Func func(ctx context.Context, place string) (*Result, error)

// DefaultEndpoint is the public Nominatim search endpoint.
const DefaultEndpoint = "https://nominatim.openstreetmap.org/search"

// Client resolves place names against a Nominatim-compatible endpoint.
type Client struct {
	endpoint  string
	userAgent string
	http      *http.Client
}

// New builds a Client. endpoint defaults to DefaultEndpoint.
func New(endpoint, userAgent string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if userAgent == "" {
		userAgent = "kgraphrag"
	}
	return &Client{
		endpoint:  endpoint,
		userAgent: userAgent,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// nominatimPlace is the subset of Nominatim's search response we read.
type nominatimPlace struct {
	DisplayName string            `json:"display_name"`
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	OSMType     string            `json:"osm_type"`
	Importance  float64           `json:"importance"`
	Address     map[string]string `json:"address"`
}

// Geocode implements Func.
func (c *Client) Geocode(ctx context.Context, place string) (*Result, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocoder: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoder: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder: unexpected status %d", resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("geocoder: decode response: %w", err)
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("geocoder: no result for %q", place)
	}

	p := places[0]
	lat, _ := strconv.ParseFloat(p.Lat, 64)
	lon, _ := strconv.ParseFloat(p.Lon, 64)
	return &Result{
		Lieu:        p.DisplayName,
		Pays:        p.Address["country"],
		CodePays:    p.Address["country_code"],
		Region:      p.Address["region"],
		Province:    p.Address["province"],
		Departement: p.Address["county"],
		Commune:     firstNonEmpty(p.Address["city"], p.Address["town"], p.Address["village"]),
		Latitude:    lat,
		Longitude:   lon,
		OSMType:     p.OSMType,
		Importance:  p.Importance,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

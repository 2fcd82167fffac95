package rules

import (
	"fmt"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"
)

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

// GeoIPReader is a CountryLookup backed by a MaxMind country database.
type GeoIPReader struct {
	reader *maxminddb.Reader
}

// OpenGeoIP opens the MaxMind DB file at path.
func OpenGeoIP(path string) (*GeoIPReader, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &GeoIPReader{reader: reader}, nil
}

// Country implements CountryLookup. The registered country is used when the record
// carries no country of its own.
func (g *GeoIPReader) Country(ip netip.Addr) (string, bool) {
	if g == nil || g.reader == nil || !ip.IsValid() {
		return "", false
	}
	var rec countryRecord
	if err := g.reader.Lookup(ip.AsSlice(), &rec); err != nil {
		return "", false
	}
	if rec.Country.ISOCode != "" {
		return rec.Country.ISOCode, true
	}
	if rec.RegisteredCountry.ISOCode != "" {
		return rec.RegisteredCountry.ISOCode, true
	}
	return "", false
}

// Close releases the database.
func (g *GeoIPReader) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

package coord

import "github.com/pkg/errors"

// SwissLV95 implements the Projection interface for EPSG:2056 (CH1903+ / LV95)
// with swisstopo's published polynomial approximation. Accuracy is about one
// meter inside Switzerland; points far outside the country are rejected
// because the polynomial diverges there.
//
// Reference: https://www.swisstopo.admin.ch/en/knowledge-facts/surveying-geodesy/reference-frames/local/lv95.html
type SwissLV95 struct{}

// Validity envelope of the approximation, padded around the national border.
const (
	lv95MinLon, lv95MaxLon = 4.0, 12.5
	lv95MinLat, lv95MaxLat = 44.5, 49.0
)

func (s *SwissLV95) EPSG() int { return 2056 }

// ToWGS84 converts LV95 easting/northing to WGS84 longitude/latitude.
func (s *SwissLV95) ToWGS84(easting, northing float64) (lon, lat float64, err error) {
	// Offsets from the Bern origin in 1000 km.
	y := (easting - 2_600_000) / 1_000_000
	x := (northing - 1_200_000) / 1_000_000

	// Both in units of 10000".
	lonSec := 2.6779094 + 4.728982*y + 0.791484*y*x + 0.1306*y*x*x - 0.0436*y*y*y
	latSec := 16.9023892 + 3.238272*x - 0.270978*y*y - 0.002528*x*x - 0.0447*y*y*x - 0.0140*x*x*x

	lon = lonSec * 100.0 / 36.0
	lat = latSec * 100.0 / 36.0
	if !inLV95Envelope(lon, lat) {
		return 0, 0, errors.Errorf("LV95 (%.1f, %.1f) is outside the supported area", easting, northing)
	}
	return lon, lat, nil
}

// FromWGS84 converts WGS84 longitude/latitude to LV95 easting/northing.
func (s *SwissLV95) FromWGS84(lon, lat float64) (easting, northing float64, err error) {
	if !inLV95Envelope(lon, lat) {
		return 0, 0, errors.Errorf("(%.5f, %.5f) is outside the LV95 area", lon, lat)
	}
	phi := (lat*3600 - 169028.66) / 10000
	lambda := (lon*3600 - 26782.5) / 10000

	easting = 2_600_072.37 +
		211_455.93*lambda -
		10_938.51*lambda*phi -
		0.36*lambda*phi*phi -
		44.54*lambda*lambda*lambda

	northing = 1_200_147.07 +
		308_807.95*phi +
		3_745.25*lambda*lambda +
		76.63*phi*phi -
		194.56*lambda*lambda*phi +
		119.79*phi*phi*phi
	return easting, northing, nil
}

func inLV95Envelope(lon, lat float64) bool {
	return lon >= lv95MinLon && lon <= lv95MaxLon && lat >= lv95MinLat && lat <= lv95MaxLat
}

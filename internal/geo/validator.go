// Package geo validates geocoded coordinates against per-state bounding
// boxes, catching the common failure modes of free-text geocoding: hits
// in the wrong state, hits outside Brazil entirely, and null-island
// placeholders.
package geo

import (
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// stateBounds holds a generous WGS84 bounding box per state. The boxes
// are deliberately loose (coastal islands, border towns), tight enough
// to reject a hit placed in a different state or country.
var stateBounds = map[string]*geom.Bounds{
	"AC": box(-74.1, -11.3, -66.5, -7.0),
	"AL": box(-38.4, -10.6, -35.0, -8.7),
	"AP": box(-55.0, -1.3, -49.7, 4.5),
	"AM": box(-73.9, -10.0, -56.0, 2.4),
	"BA": box(-46.7, -18.4, -37.2, -8.4),
	"CE": box(-41.5, -8.0, -37.1, -2.6),
	"DF": box(-48.4, -16.2, -47.2, -15.3),
	"ES": box(-41.9, -21.4, -39.5, -17.8),
	"GO": box(-53.3, -19.6, -45.8, -12.3),
	"MA": box(-48.9, -10.4, -41.6, -0.9),
	"MT": box(-61.8, -18.2, -50.1, -7.2),
	"MS": box(-58.3, -24.2, -50.8, -17.0),
	"MG": box(-51.1, -23.0, -39.8, -14.1),
	"PA": box(-59.0, -10.0, -45.9, 2.7),
	"PB": box(-38.9, -8.4, -34.6, -5.9),
	"PR": box(-54.7, -26.9, -47.9, -22.4),
	"PE": box(-41.5, -9.6, -32.3, -3.7),
	"PI": box(-46.0, -11.0, -40.2, -2.6),
	"RJ": box(-45.0, -23.5, -40.8, -20.6),
	"RN": box(-38.7, -7.0, -34.8, -4.7),
	"RS": box(-57.8, -33.9, -49.6, -26.9),
	"RO": box(-66.9, -13.8, -59.6, -7.8),
	"RR": box(-64.9, -1.7, -58.8, 5.4),
	"SC": box(-54.0, -29.5, -48.2, -25.8),
	"SP": box(-53.2, -25.5, -44.0, -19.6),
	"SE": box(-38.3, -11.7, -36.3, -9.4),
	"TO": box(-50.9, -13.6, -45.5, -5.0),
}

// brazilBounds is the country-wide sanity envelope used when the state
// code is unknown to the table.
var brazilBounds = box(-74.1, -34.0, -28.0, 5.5)

func box(minLon, minLat, maxLon, maxLat float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(minLon, minLat, maxLon, maxLat)
}

// BoundsValidator checks geocoded coordinates against the state boxes.
// The zero value is ready to use.
type BoundsValidator struct{}

// Validate reports whether the coordinate pair is plausible for the
// claimed state. (0,0) is always rejected. The city is carried for
// diagnostics only and never decides the outcome, because feed city
// names rarely match the geocoder's spelling exactly.
func (BoundsValidator) Validate(lat, lon float64, city, region string) bool {
	if lat == 0 && lon == 0 {
		return false
	}

	b, ok := stateBounds[strings.ToUpper(strings.TrimSpace(region))]
	if !ok {
		zap.L().Debug("unknown state code, applying country-wide bounds",
			zap.String("region", region),
		)
		b = brazilBounds
	}
	if !b.OverlapsPoint(geom.XY, geom.Coord{lon, lat}) {
		zap.L().Debug("coordinates outside state bounds",
			zap.String("region", region),
			zap.String("city", city),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
		)
		return false
	}
	return true
}

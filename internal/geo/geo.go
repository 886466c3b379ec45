// Package geo provides distance math and coarse location anchors for
// reports that arrive without coordinates.
package geo

import (
	"math"
	"strings"
)

// EarthRadiusKm is the mean radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// cityAnchors maps Telangana city names to their coordinates. Free-text
// reports without a GPS fix are anchored to the first city mentioned.
var cityAnchors = map[string]Point{
	"hyderabad":    {17.3850, 78.4867},
	"secunderabad": {17.4399, 78.4983},
	"warangal":     {17.9689, 79.5941},
	"hanamkonda":   {18.0077, 79.5585},
	"nizamabad":    {18.6725, 78.0941},
	"karimnagar":   {18.4386, 79.1288},
	"khammam":      {17.2473, 80.1514},
	"nalgonda":     {17.0575, 79.2684},
	"mahbubnagar":  {16.7488, 78.0035},
	"suryapet":     {17.1400, 79.6200},
	"adilabad":     {19.6756, 78.5339},
	"jagtial":      {18.7947, 78.9166},
	"sangareddy":   {17.6289, 78.0820},
	"medak":        {18.0450, 78.2600},
	"rangareddy":   {17.3000, 78.2000},
	"nagarkurnool": {16.4821, 78.3247},
	"mulugu":       {18.1930, 79.9410},
}

// cityOrder fixes the scan order so a report naming two cities resolves
// the same way every time.
var cityOrder = []string{
	"hyderabad", "secunderabad", "warangal", "hanamkonda", "nizamabad",
	"karimnagar", "khammam", "nalgonda", "mahbubnagar", "suryapet",
	"adilabad", "jagtial", "sangareddy", "medak", "rangareddy",
	"nagarkurnool", "mulugu",
}

const defaultCity = "hyderabad"

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlon := rlon2 - rlon1
	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(rlat1)*math.Cos(rlat2)*math.Pow(math.Sin(dlon/2), 2)
	return EarthRadiusKm * 2 * math.Asin(math.Sqrt(a))
}

// CityFromText returns the first known city mentioned in text, defaulting
// to Hyderabad.
func CityFromText(text string) string {
	lowered := strings.ToLower(text)
	for _, city := range cityOrder {
		if strings.Contains(lowered, city) {
			return city
		}
	}
	return defaultCity
}

// AnchorFromText resolves text to a coordinate anchor.
func AnchorFromText(text string) Point {
	return cityAnchors[CityFromText(text)]
}

// Anchor returns the anchor for a known city name, and whether it exists.
func Anchor(city string) (Point, bool) {
	p, ok := cityAnchors[strings.ToLower(strings.TrimSpace(city))]
	return p, ok
}

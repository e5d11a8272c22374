// Package geo computes great-circle distances and ranks candidates around a
// searcher's location.
package geo

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// EarthRadiusMiles is the spherical Earth radius used by Distance.
const EarthRadiusMiles = 3958.7613

// NearbyLabel is shown for candidates whose distance cannot be computed.
const NearbyLabel = "Nearby"

// Point is a WGS-84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Distance returns the haversine distance between a and b in miles.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h just outside [0, 1] for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}

// Within reports whether b lies inside radius miles of a.
func Within(a, b Point, radius float64) bool {
	return Distance(a, b) <= radius
}

// Label renders a distance for display.
func Label(miles float64) string {
	return fmt.Sprintf("%.1f mi away", miles)
}

// Ranked is one candidate after ranking. Distance is only meaningful when
// Known is true.
type Ranked[T any] struct {
	Item     T
	Distance float64
	Known    bool
	Label    string
}

// Rank filters items to those within radius of origin and orders them by
// ascending distance, newest first on ties. Items without a location follow
// the ranked ones, newest first, labelled NearbyLabel. A nil origin disables
// filtering and returns every item in recency order.
func Rank[T any](origin *Point, radius float64, items []T, locate func(T) *Point, created func(T) time.Time) []Ranked[T] {
	ranked := make([]Ranked[T], 0, len(items))
	unranked := make([]Ranked[T], 0)

	for _, item := range items {
		loc := locate(item)
		if origin == nil || loc == nil {
			unranked = append(unranked, Ranked[T]{Item: item, Label: NearbyLabel})
			continue
		}
		d := Distance(*origin, *loc)
		if !(d <= radius) {
			continue
		}
		ranked = append(ranked, Ranked[T]{Item: item, Distance: d, Known: true, Label: Label(d)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Distance != ranked[j].Distance {
			return ranked[i].Distance < ranked[j].Distance
		}
		return created(ranked[i].Item).After(created(ranked[j].Item))
	})
	sort.SliceStable(unranked, func(i, j int) bool {
		return created(unranked[i].Item).After(created(unranked[j].Item))
	})

	return append(ranked, unranked...)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

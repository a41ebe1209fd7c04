package distance

import (
	"math"

	"github.com/example/ride-rewards/internal/models"
)

const earthRadiusMeters = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// TraceLength sums the great-circle legs of a GPS trace.
func TraceLength(trace []models.Coord) float64 {
	var total float64
	for i := 1; i < len(trace); i++ {
		p, q := trace[i-1], trace[i]
		total += Haversine(p.Lat, p.Lon, q.Lat, q.Lon)
	}
	return total
}

// TraceMeters is TraceLength rounded to whole meters. Traces with fewer than
// two points, or with non-finite coordinates, measure 0.
func TraceMeters(trace []models.Coord) uint64 {
	m := TraceLength(trace)
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return 0
	}
	return uint64(math.Round(m))
}

// RideMeters returns the distance a ride event should be rewarded for: the
// reported meters when present, the trace length otherwise.
func RideMeters(ev models.RideEvent) uint64 {
	if ev.DistanceMeters > 0 {
		return ev.DistanceMeters
	}
	return TraceMeters(ev.Trace)
}

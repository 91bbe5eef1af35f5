package geo

import "math"

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Distance calculates the Haversine distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	const R = 6371000 // Earth radius in meters
	dLat := (p2.Lat - p1.Lat) * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}

// Bearing calculates the initial bearing (forward azimuth) from p1 to p2 in degrees.
func Bearing(p1, p2 Point) float64 {
	lat1 := p1.Lat * (math.Pi / 180.0)
	lat2 := p2.Lat * (math.Pi / 180.0)
	dLon := (p2.Lon - p1.Lon) * (math.Pi / 180.0)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) -
		math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Atan2(y, x)

	return math.Mod(brng*(180.0/math.Pi)+360.0, 360.0)
}

// SpeedKmh derives speed in km/h from a displacement in meters over
// elapsed seconds. Non-positive elapsed time yields 0.
func SpeedKmh(meters, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return meters / seconds * 3.6
}

// DistanceToPath returns the shortest distance in meters from p to the
// polyline defined by path. An empty path yields 0; a single-point path
// degenerates to point distance.
func DistanceToPath(p Point, path []Point) float64 {
	if len(path) == 0 {
		return 0
	}
	if len(path) == 1 {
		return Distance(p, path[0])
	}

	best := math.MaxFloat64
	for i := 0; i < len(path)-1; i++ {
		d := distanceToSegment(p, path[i], path[i+1])
		if d < best {
			best = d
		}
	}
	return best
}

// distanceToSegment projects p onto the segment (a, b) in a local
// equirectangular frame. Good enough at the path lengths tourists walk.
func distanceToSegment(p, a, b Point) float64 {
	// Local planar coordinates in meters, centered on a.
	cosLat := math.Cos(a.Lat * (math.Pi / 180.0))
	const mPerDeg = 111194.9 // meters per degree of latitude

	px := (p.Lon - a.Lon) * cosLat * mPerDeg
	py := (p.Lat - a.Lat) * mPerDeg
	bx := (b.Lon - a.Lon) * cosLat * mPerDeg
	by := (b.Lat - a.Lat) * mPerDeg

	segLenSq := bx*bx + by*by
	if segLenSq == 0 {
		return math.Hypot(px, py)
	}

	t := (px*bx + py*by) / segLenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(px-t*bx, py-t*by)
}

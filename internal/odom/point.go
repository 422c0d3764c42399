package odom

import "math"

// Vec3 is a 3D vector in meters. Used for both sensor-frame and
// world-frame positions.
type Vec3 [3]float64

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the dot product of v and w.
func (v Vec3) Dot(w Vec3) float64 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Cross returns the cross product v × w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// SquaredNorm returns the squared Euclidean length of v.
func (v Vec3) SquaredNorm() float64 {
	return v.Dot(v)
}

// Point3D is a single LiDAR return within one scan.
//
// Raw is the position in the sensor frame at acquisition time. World is the
// position in the map frame once a pose has been applied; it starts equal to
// Raw for an unregistered scan. AlphaTimestamp locates the return within the
// scan's acquisition window and drives continuous-time interpolation.
type Point3D struct {
	Raw   Vec3 // Sensor-frame position (meters)
	World Vec3 // Map-frame position after registration (meters)

	// AlphaTimestamp is the relative timestamp in [0,1] between the
	// beginning and the end of the scan.
	AlphaTimestamp float64

	// Timestamp is the absolute acquisition timestamp when the driver
	// provides one. Zero otherwise; never used for interpolation.
	Timestamp float64

	Intensity  float32
	FrameIndex int
}

// NewPoint returns a Point3D at the given sensor-frame position with the
// given relative timestamp. World starts equal to Raw.
func NewPoint(x, y, z, alpha float64) Point3D {
	p := Point3D{
		Raw:            Vec3{x, y, z},
		AlphaTimestamp: clampAlpha(alpha),
	}
	p.World = p.Raw
	return p
}

func clampAlpha(alpha float64) float64 {
	if alpha < 0 {
		return 0
	}
	if alpha > 1 {
		return 1
	}
	return alpha
}

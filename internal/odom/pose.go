package odom

import "math"

// Quaternion is a rotation stored as (W, X, Y, Z). All constructors and
// operations keep it normalised; callers never need to renormalise.
type Quaternion struct {
	W, X, Y, Z float64
}

// IdentityQuaternion returns the no-rotation quaternion.
func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

// QuaternionFromAxisAngle builds a quaternion from a rotation vector
// (axis scaled by angle in radians). A near-zero vector yields identity.
func QuaternionFromAxisAngle(v Vec3) Quaternion {
	angle := v.Norm()
	if angle < 1e-12 {
		return IdentityQuaternion()
	}
	half := angle / 2
	s := math.Sin(half) / angle
	return Quaternion{
		W: math.Cos(half),
		X: v[0] * s,
		Y: v[1] * s,
		Z: v[2] * s,
	}
}

// Normalize rescales q to unit length. A degenerate quaternion collapses to
// identity rather than propagating NaNs.
func (q Quaternion) Normalize() Quaternion {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n < 1e-15 {
		return IdentityQuaternion()
	}
	return Quaternion{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Mul returns the Hamilton product q * r (apply r first, then q).
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Conjugate returns the inverse rotation (for unit quaternions).
func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Rotate applies the rotation to v.
func (q Quaternion) Rotate(v Vec3) Vec3 {
	// v' = v + 2*u × (u × v + w*v), u = (x,y,z)
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Add(v.Scale(q.W))
	return v.Add(u.Cross(t).Scale(2))
}

// Slerp spherically interpolates from q to r by alpha in [0,1].
func (q Quaternion) Slerp(r Quaternion, alpha float64) Quaternion {
	dot := q.W*r.W + q.X*r.X + q.Y*r.Y + q.Z*r.Z
	// Take the short arc.
	if dot < 0 {
		r = Quaternion{-r.W, -r.X, -r.Y, -r.Z}
		dot = -dot
	}
	if dot > 0.9995 {
		// Nearly parallel: linear interpolation is stable and cheap.
		return Quaternion{
			W: q.W + alpha*(r.W-q.W),
			X: q.X + alpha*(r.X-q.X),
			Y: q.Y + alpha*(r.Y-q.Y),
			Z: q.Z + alpha*(r.Z-q.Z),
		}.Normalize()
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	a := math.Sin((1-alpha)*theta) / sinTheta
	b := math.Sin(alpha*theta) / sinTheta
	return Quaternion{
		W: a*q.W + b*r.W,
		X: a*q.X + b*r.X,
		Y: a*q.Y + b*r.Y,
		Z: a*q.Z + b*r.Z,
	}.Normalize()
}

// AngularDistance returns the rotation angle in radians between q and r.
func (q Quaternion) AngularDistance(r Quaternion) float64 {
	dot := q.W*r.W + q.X*r.X + q.Y*r.Y + q.Z*r.Z
	if dot < 0 {
		dot = -dot
	}
	if dot > 1 {
		dot = 1
	}
	return 2 * math.Acos(dot)
}

// Pose is a rigid transform from sensor frame to map frame.
type Pose struct {
	Rotation    Quaternion
	Translation Vec3
}

// IdentityPose returns the identity transform.
func IdentityPose() Pose {
	return Pose{Rotation: IdentityQuaternion()}
}

// Apply transforms a sensor-frame position into the map frame.
func (p Pose) Apply(v Vec3) Vec3 {
	return p.Rotation.Rotate(v).Add(p.Translation)
}

// Mul composes two transforms: (p.Mul(q)).Apply(v) == p.Apply(q.Apply(v)).
func (p Pose) Mul(q Pose) Pose {
	return Pose{
		Rotation:    p.Rotation.Mul(q.Rotation).Normalize(),
		Translation: p.Rotation.Rotate(q.Translation).Add(p.Translation),
	}
}

// Inverse returns the inverse transform.
func (p Pose) Inverse() Pose {
	inv := p.Rotation.Conjugate()
	return Pose{
		Rotation:    inv,
		Translation: inv.Rotate(p.Translation).Scale(-1),
	}
}

// Interpolate returns the pose at alpha in [0,1] between p (alpha=0) and
// q (alpha=1): slerp on rotation, lerp on translation.
func (p Pose) Interpolate(q Pose, alpha float64) Pose {
	return Pose{
		Rotation:    p.Rotation.Slerp(q.Rotation, alpha),
		Translation: p.Translation.Add(q.Translation.Sub(p.Translation).Scale(alpha)),
	}
}

// TrajectoryFrame is the pose estimate for one scan: the rigid transform at
// the beginning and at the end of the scan's acquisition window. Begin of
// frame k is continuous with End of frame k-1 under constant-velocity
// initialisation.
type TrajectoryFrame struct {
	Begin Pose
	End   Pose

	// Acquisition window bounds (unix nanos). Optional; zero when the
	// driver does not timestamp scans.
	BeginUnixNanos int64
	EndUnixNanos   int64
}

// NewTrajectoryFrame returns a frame with both poses at identity.
func NewTrajectoryFrame() TrajectoryFrame {
	return TrajectoryFrame{Begin: IdentityPose(), End: IdentityPose()}
}

// PoseAt returns the interpolated pose at relative timestamp alpha.
func (f TrajectoryFrame) PoseAt(alpha float64) Pose {
	return f.Begin.Interpolate(f.End, clampAlpha(alpha))
}

// RelativeDistance is the translation magnitude between Begin and End.
func (f TrajectoryFrame) RelativeDistance() float64 {
	return f.End.Translation.Sub(f.Begin.Translation).Norm()
}

// RelativeOrientation is the rotation angle in radians between Begin and End.
func (f TrajectoryFrame) RelativeOrientation() float64 {
	return f.Begin.Rotation.AngularDistance(f.End.Rotation)
}

package odom

// FailureReason tags why a registration attempt was rejected. The escalation
// policy keys off it: a map-bottleneck failure calls for different parameter
// changes than an optimizer failure.
type FailureReason string

const (
	// FailureNone means the attempt passed assessment.
	FailureNone FailureReason = ""
	// FailureConvergence means the solver failed to converge or found too
	// few correspondences.
	FailureConvergence FailureReason = "convergence"
	// FailureRelativeMotion means the per-frame displacement or rotation
	// exceeded the configured sanity bound.
	FailureRelativeMotion FailureReason = "relative_motion"
	// FailureDiscontinuity means the boundary-pose discontinuity between
	// consecutive frames exceeded the ego-motion error threshold.
	FailureDiscontinuity FailureReason = "discontinuity"
	// FailureMapNeighborhood means the local map around the keypoints was
	// too sparse to constrain the solve.
	FailureMapNeighborhood FailureReason = "map_neighborhood"
)

// RegistrationSummary is the per-frame result record returned by
// RegisterFrame. Created fresh per call; never mutated after return.
type RegistrationSummary struct {
	// Frame is the estimated begin/end pose pair for the scan.
	Frame TrajectoryFrame

	SampleSize      int // Points remaining after the working subsample
	NumberKeypoints int // Keypoints used by the registration solve

	// DistanceCorrection is the discontinuity between the previous frame's
	// end pose and this frame's begin pose. It is measured from the
	// optimized begin pose, not the motion-model guess, matching how the
	// consistency gate consumes it.
	DistanceCorrection float64

	// RelativeDistance and RelativeOrientation measure the motion spanned
	// by the scan: translation (meters) and rotation (radians) between the
	// frame's begin and end poses.
	RelativeDistance    float64
	RelativeOrientation float64

	Success          bool
	NumberOfAttempts int
	ErrorMessage     string

	// CorrectedPoints are the registration keypoints expressed in the map
	// frame; AllCorrectedPoints covers the full input scan.
	CorrectedPoints    []Point3D
	AllCorrectedPoints []Point3D
}

package odom

import "fmt"

// MotionCompensation selects how intra-scan sensor motion is handled by the
// registration cost. Fixed per Odometry instance, resolved once at
// construction.
type MotionCompensation string

const (
	// MotionNone ignores intra-scan motion: the scan is treated as rigid.
	MotionNone MotionCompensation = "none"
	// MotionConstantVelocity de-distorts the scan once, from the initial
	// motion guess, then registers it rigidly.
	MotionConstantVelocity MotionCompensation = "constant_velocity"
	// MotionIterative re-applies the de-distortion after every optimizer
	// iteration from the refreshed begin/end poses.
	MotionIterative MotionCompensation = "iterative"
	// MotionContinuous models the distortion inside the cost itself via
	// per-point timestamp interpolation between the begin and end poses.
	MotionContinuous MotionCompensation = "continuous"
)

// Initialization selects how a new frame's begin/end poses are seeded when
// the caller supplies no estimate.
type Initialization string

const (
	// InitNone continues from the last accepted end pose with zero motion.
	InitNone Initialization = "none"
	// InitConstantVelocity extrapolates the previous frame's relative
	// motion onto the new frame.
	InitConstantVelocity Initialization = "constant_velocity"
)

// CostKind selects the registration residual. Derived from the motion
// compensation mode; not set directly by callers.
type CostKind string

const (
	// CostPointToPlane is the rigid single-pose point-to-plane residual.
	CostPointToPlane CostKind = "point_to_plane"
	// CostCTPointToPlane is the continuous-time point-to-plane residual
	// over the interpolated begin/end pose pair.
	CostCTPointToPlane CostKind = "ct_point_to_plane"
)

// CTICPOptions configures one registration solve.
type CTICPOptions struct {
	NumIters           int     // Optimizer iteration cap (default: 5)
	VoxelNeighborhood  int32   // Neighbor search cube radius in voxels (default: 1)
	MaxNumberNeighbors int     // Neighbors kept per keypoint for the plane fit (default: 20)
	MinNumberNeighbors int     // Neighbors required to fit a plane (default: 5)
	MaxDistToPlane     float64 // Correspondences beyond this residual are dropped (default: 0.3m)
	MinNumberKeypoints int     // Residuals required for a solvable system (default: 20)

	// Convergence: the solve stops when both update norms drop below
	// these thresholds.
	ThresholdOrientationNorm float64 // Rotation update norm, radians (default: 1e-4)
	ThresholdTranslationNorm float64 // Translation update norm, meters (default: 1e-3)

	// Regularisation weights for the continuous-time solve.
	BetaLocationConsistency float64 // Penalises begin drifting from the previous end (default: 1e-3)
	BetaConstantVelocity    float64 // Penalises acceleration between frames (default: 1e-3)

	// Derived from MotionCompensation in NewOdometry.
	Distance                   CostKind
	PointToPlaneWithDistortion bool

	DebugPrint bool // Log per-iteration diagnostics via the standard logger
}

// DefaultCTICPOptions returns solver defaults suitable for the driving
// profile.
func DefaultCTICPOptions() CTICPOptions {
	return CTICPOptions{
		NumIters:                   5,
		VoxelNeighborhood:          1,
		MaxNumberNeighbors:         20,
		MinNumberNeighbors:         5,
		MaxDistToPlane:             0.3,
		MinNumberKeypoints:         20,
		ThresholdOrientationNorm:   1e-4,
		ThresholdTranslationNorm:   1e-3,
		BetaLocationConsistency:    1e-3,
		BetaConstantVelocity:       1e-3,
		Distance:                   CostCTPointToPlane,
		PointToPlaneWithDistortion: true,
	}
}

// OdometryOptions is the immutable-per-run configuration aggregate for an
// Odometry instance.
type OdometryOptions struct {
	// Map bootstrap: the first InitNumFrames frames use coarser voxel
	// parameters to populate the map quickly.
	InitVoxelSize       float64 // Map voxel size during initialisation (default: 0.2m)
	InitSampleVoxelSize float64 // Keypoint sampling voxel size during initialisation (default: 1.0m)
	InitNumFrames       int     // Frames registered with initialisation parameters (default: 20)

	// Steady state.
	VoxelSize           float64 // Map voxel size (default: 0.5m)
	SampleVoxelSize     float64 // Keypoint sampling voxel size (default: 1.5m)
	MaxDistance         float64 // Voxels farther than this from the pose are evicted (default: 100m)
	MaxNumPointsInVoxel int     // Point budget per voxel (default: 20)
	MinDistancePoints   float64 // Block-local minimum spacing between map points (default: 0.1m)

	// Consistency bound: an inter-frame discontinuity beyond this is an
	// ego-motion error.
	DistanceErrorThreshold float64 // (default: 5.0m)

	// Robust registration: assess every result and retry with escalated
	// parameters on failure.
	RobustRegistration               bool
	RobustFullVoxelThreshold         float64 // Min occupied-neighbor ratio around keypoints (default: 0.7)
	RobustNeighborhoodMinDist        float64 // Relative distance that triggers the neighborhood test (default: 0.1m)
	RobustNeighborhoodMinOrientation float64 // Relative orientation that triggers the neighborhood test (default: 0.01 rad)
	RobustRelativeTransThreshold     float64 // Per-frame translation sanity bound (default: 1.0m)
	RobustFailEarly                  bool    // Abort the retry loop on the first failed assessment
	RobustNumAttempts                int     // Total attempt cap (default: 6)
	RobustMaxVoxelNeighborhood       int32   // Escalation cap for the search radius (default: 4)

	CTICP CTICPOptions

	MotionCompensation MotionCompensation
	Initialization     Initialization

	DebugPrint bool // Per-frame logging via the standard logger
}

// DefaultOdometryOptions returns the baseline option set: continuous-time
// registration, constant-velocity initialisation, robust retry disabled.
func DefaultOdometryOptions() OdometryOptions {
	return OdometryOptions{
		InitVoxelSize:                    0.2,
		InitSampleVoxelSize:              1.0,
		InitNumFrames:                    20,
		VoxelSize:                        0.5,
		SampleVoxelSize:                  1.5,
		MaxDistance:                      100.0,
		MaxNumPointsInVoxel:              20,
		MinDistancePoints:                0.1,
		DistanceErrorThreshold:           5.0,
		RobustRegistration:               false,
		RobustFullVoxelThreshold:         0.7,
		RobustNeighborhoodMinDist:        0.10,
		RobustNeighborhoodMinOrientation: 0.01,
		RobustRelativeTransThreshold:     1.0,
		RobustFailEarly:                  false,
		RobustNumAttempts:                6,
		RobustMaxVoxelNeighborhood:       4,
		CTICP:                            DefaultCTICPOptions(),
		MotionCompensation:               MotionContinuous,
		Initialization:                   InitConstantVelocity,
	}
}

// DefaultDrivingProfile returns parameters tuned for fast, mostly planar
// motion with a high-confidence constant-velocity guess (vehicle-mounted
// sensors at road speed).
func DefaultDrivingProfile() OdometryOptions {
	return DefaultOdometryOptions()
}

// DefaultSlowOutdoorProfile returns parameters tuned for slow, abrupt
// motion (handheld or segway-mounted sensors): finer voxels, smaller steps,
// robust retry enabled.
func DefaultSlowOutdoorProfile() OdometryOptions {
	opts := DefaultOdometryOptions()
	opts.InitVoxelSize = 0.1
	opts.InitSampleVoxelSize = 0.5
	opts.VoxelSize = 0.3
	opts.SampleVoxelSize = 1.0
	opts.MinDistancePoints = 0.05
	opts.DistanceErrorThreshold = 2.0
	opts.RobustRegistration = true
	opts.RobustRelativeTransThreshold = 0.7
	opts.RobustNumAttempts = 6
	opts.CTICP.NumIters = 10
	opts.CTICP.MaxDistToPlane = 0.5
	return opts
}

// Validate rejects option sets that cannot produce a working engine.
func (o *OdometryOptions) Validate() error {
	if o.VoxelSize <= 0 || o.InitVoxelSize <= 0 {
		return fmt.Errorf("voxel sizes must be positive (voxel_size=%v, init_voxel_size=%v)", o.VoxelSize, o.InitVoxelSize)
	}
	if o.SampleVoxelSize <= 0 || o.InitSampleVoxelSize <= 0 {
		return fmt.Errorf("sample voxel sizes must be positive (sample_voxel_size=%v, init_sample_voxel_size=%v)", o.SampleVoxelSize, o.InitSampleVoxelSize)
	}
	if o.MaxNumPointsInVoxel < 1 {
		return fmt.Errorf("max_num_points_in_voxel must be >= 1, got %d", o.MaxNumPointsInVoxel)
	}
	if o.MinDistancePoints < 0 {
		return fmt.Errorf("min_distance_points must be >= 0, got %v", o.MinDistancePoints)
	}
	if o.MaxDistance <= 0 {
		return fmt.Errorf("max_distance must be positive, got %v", o.MaxDistance)
	}
	if o.RobustNumAttempts < 1 {
		return fmt.Errorf("robust_num_attempts must be >= 1, got %d", o.RobustNumAttempts)
	}
	switch o.MotionCompensation {
	case MotionNone, MotionConstantVelocity, MotionIterative, MotionContinuous:
	default:
		return fmt.Errorf("unknown motion_compensation %q", o.MotionCompensation)
	}
	switch o.Initialization {
	case InitNone, InitConstantVelocity:
	default:
		return fmt.Errorf("unknown initialization %q", o.Initialization)
	}
	return nil
}

// resolveCost maps the motion-compensation mode onto the solver's cost
// selection. Called once from NewOdometry.
func (o *OdometryOptions) resolveCost() {
	switch o.MotionCompensation {
	case MotionNone, MotionConstantVelocity:
		o.CTICP.PointToPlaneWithDistortion = false
		o.CTICP.Distance = CostPointToPlane
	case MotionIterative:
		o.CTICP.PointToPlaneWithDistortion = true
		o.CTICP.Distance = CostPointToPlane
	case MotionContinuous:
		o.CTICP.PointToPlaneWithDistortion = true
		o.CTICP.Distance = CostCTPointToPlane
	}
}

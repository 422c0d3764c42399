package odom

import (
	"fmt"
	"log"

	"github.com/banshee-data/odometry.report/internal/units"
)

// Odometry is the frame-registration engine. It owns the local map, the
// accepted trajectory, and the registered-frame counter; it is not safe for
// concurrent calls and must be externally serialised.
type Odometry struct {
	options    OdometryOptions
	registrar  Registrar
	escalation EscalationPolicy

	voxelMap         *VoxelHashMap
	trajectory       []TrajectoryFrame
	registeredFrames int
}

// NewOdometry builds an engine from options, wiring the default Gauss-Newton
// registrar and the default escalation policy. The motion-compensation mode
// is resolved into the solver's cost selection here, once.
func NewOdometry(options OdometryOptions) (*Odometry, error) {
	return NewOdometryWithRegistrar(options, NewCTRegistrar())
}

// NewOdometryWithRegistrar is NewOdometry with a caller-supplied solver,
// used to swap in deterministic or instrumented registrars in tests.
func NewOdometryWithRegistrar(options OdometryOptions, registrar Registrar) (*Odometry, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid odometry options: %w", err)
	}
	if registrar == nil {
		return nil, fmt.Errorf("nil registrar")
	}
	options.resolveCost()
	return &Odometry{
		options:   options,
		registrar: registrar,
		escalation: DefaultEscalationPolicy{
			MaxVoxelNeighborhood: options.RobustMaxVoxelNeighborhood,
			MinSampleVoxelSize:   options.VoxelSize,
		},
		voxelMap: NewVoxelHashMap(),
	}, nil
}

// SetEscalationPolicy replaces the robust-retry escalation schedule. Only
// meaningful before the first RegisterFrame call.
func (o *Odometry) SetEscalationPolicy(p EscalationPolicy) {
	if p != nil {
		o.escalation = p
	}
}

// RegisterFrame registers a new scan against the local map, deriving the
// initial pose guess from trajectory history. Registration failure is
// reported in the summary, never as an error; the error return covers
// malformed input only.
func (o *Odometry) RegisterFrame(frame []Point3D) (*RegistrationSummary, error) {
	return o.registerFrame(frame, nil)
}

// RegisterFrameWithEstimate registers a new scan seeding the begin/end poses
// from a caller-supplied estimate (e.g. inertial prediction), bypassing
// constant-velocity extrapolation.
func (o *Odometry) RegisterFrameWithEstimate(frame []Point3D, estimate TrajectoryFrame) (*RegistrationSummary, error) {
	return o.registerFrame(frame, &estimate)
}

// LastInsertedPose returns the end pose of the most recently accepted frame.
func (o *Odometry) LastInsertedPose() (Pose, error) {
	if len(o.trajectory) == 0 {
		return Pose{}, fmt.Errorf("no frame registered yet")
	}
	return o.trajectory[len(o.trajectory)-1].End, nil
}

// Trajectory returns the accepted frames, oldest first.
func (o *Odometry) Trajectory() []TrajectoryFrame {
	out := make([]TrajectoryFrame, len(o.trajectory))
	copy(out, o.trajectory)
	return out
}

// GetLocalMap flattens the local map into a point slice.
func (o *Odometry) GetLocalMap() []Vec3 {
	return o.voxelMap.Pointcloud()
}

// MapSize returns the number of points in the local map. O(map size).
func (o *Odometry) MapSize() int {
	return o.voxelMap.Size()
}

// RegisteredFrames returns the number of accepted frames.
func (o *Odometry) RegisteredFrames() int {
	return o.registeredFrames
}

func (o *Odometry) registerFrame(frame []Point3D, estimate *TrajectoryFrame) (*RegistrationSummary, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame: registration requires at least one point")
	}

	index := o.registeredFrames
	working := o.initializeFrame(frame, index)
	guess := o.initializeMotion(estimate)

	if o.options.MotionCompensation == MotionConstantVelocity {
		distortToEnd(working, guess)
	}

	summary := o.doRegister(frame, working, guess, index)
	return summary, nil
}

// initializeFrame produces the working point set: a voxel-grid subsample of
// the raw scan at the stage-appropriate voxel size, timestamps preserved.
func (o *Odometry) initializeFrame(frame []Point3D, index int) []Point3D {
	voxelSize := o.options.VoxelSize
	if index < o.options.InitNumFrames {
		voxelSize = o.options.InitVoxelSize
	}
	sampled := SubSampleFrame(frame, voxelSize)
	working := make([]Point3D, len(sampled))
	copy(working, sampled)
	for i := range working {
		working[i].FrameIndex = index
	}
	return working
}

// initializeMotion seeds the new frame's begin/end poses: explicit estimate
// if supplied, otherwise extrapolation from trajectory history.
func (o *Odometry) initializeMotion(estimate *TrajectoryFrame) TrajectoryFrame {
	if estimate != nil {
		return *estimate
	}
	next := NewTrajectoryFrame()
	n := len(o.trajectory)
	if n == 0 {
		return next
	}
	prev := o.trajectory[n-1]
	switch o.options.Initialization {
	case InitConstantVelocity:
		rel := prev.Begin.Inverse().Mul(prev.End)
		next.Begin = prev.End
		next.End = prev.End.Mul(rel)
	default: // InitNone
		next.Begin = prev.End
		next.End = prev.End
	}
	return next
}

// doRegister runs the robust-retry state machine:
// Attempt -> Assess -> {Accept | Escalate&Retry | Abort}.
func (o *Odometry) doRegister(frame, working []Point3D, guess TrajectoryFrame, index int) *RegistrationSummary {
	summary := &RegistrationSummary{Frame: guess}

	sampleVoxelSize := o.options.SampleVoxelSize
	if index < o.options.InitNumFrames {
		sampleVoxelSize = o.options.InitSampleVoxelSize
	}

	ctOpts := o.options.CTICP
	attempt := 1
	accepted := false
	var reason FailureReason

	for {
		attemptPoints := clonePoints(working)
		attemptFrame := guess
		ok := o.tryRegister(attemptPoints, &attemptFrame, ctOpts, sampleVoxelSize, summary, index)
		summary.Frame = attemptFrame
		summary.NumberOfAttempts = attempt

		if !o.options.RobustRegistration {
			// Legacy behaviour: no quality gate. A solver hard failure
			// still surfaces as an unsuccessful summary.
			accepted = ok
			if !ok {
				reason = FailureConvergence
			}
			break
		}

		var pass bool
		pass, reason = o.AssessRegistration(summary.CorrectedPoints, summary, nil)
		if ok && pass {
			accepted = true
			break
		}
		if o.options.DebugPrint {
			log.Printf("[odom] frame %d attempt %d rejected: %s", index, attempt, reason)
		}
		if attempt >= o.options.RobustNumAttempts || o.options.RobustFailEarly {
			break
		}
		ctOpts, sampleVoxelSize = o.escalation.Escalate(attempt, reason, ctOpts, sampleVoxelSize)
		attempt++
	}

	if !accepted {
		summary.Success = false
		if summary.ErrorMessage == "" {
			summary.ErrorMessage = fmt.Sprintf("registration failed after %d attempt(s): %s", summary.NumberOfAttempts, reason)
		}
		return summary
	}

	o.acceptFrame(frame, working, summary, index)
	return summary
}

// tryRegister performs one solver attempt. It fills the summary's size and
// metric fields, sets Success, and returns whether the solve itself
// succeeded. The frame is left at the guess on solver error.
func (o *Odometry) tryRegister(working []Point3D, frame *TrajectoryFrame, ctOpts CTICPOptions, sampleVoxelSize float64, summary *RegistrationSummary, index int) bool {
	keypoints := GridSampling(working, sampleVoxelSize)
	summary.SampleSize = len(working)
	summary.NumberKeypoints = len(keypoints)
	summary.ErrorMessage = ""
	summary.Success = true

	if index > 0 {
		var previous *TrajectoryFrame
		if n := len(o.trajectory); n > 0 {
			previous = &o.trajectory[n-1]
		}
		mapVoxel := o.mapVoxelSize(index)
		if err := o.registrar.Register(o.voxelMap, keypoints, frame, previous, ctOpts, mapVoxel); err != nil {
			summary.Success = false
			summary.ErrorMessage = err.Error()
		}
	} else {
		// First frame: nothing to register against. The guess stands and
		// the keypoints are corrected by it directly.
		for i := range keypoints {
			keypoints[i].World = o.correctedWorld(*frame, keypoints[i])
		}
	}

	summary.CorrectedPoints = keypoints
	summary.RelativeDistance = frame.RelativeDistance()
	summary.RelativeOrientation = frame.RelativeOrientation()
	if n := len(o.trajectory); n > 0 {
		summary.DistanceCorrection = frame.Begin.Translation.Sub(o.trajectory[n-1].End.Translation).Norm()
	}
	return summary.Success
}

// acceptFrame applies the side effects of a successful registration: map
// insertion, distance-based eviction, trajectory append, counter increment.
func (o *Odometry) acceptFrame(frame, working []Point3D, summary *RegistrationSummary, index int) {
	final := summary.Frame

	for i := range working {
		working[i].World = o.correctedWorld(final, working[i])
	}
	all := clonePoints(frame)
	if o.options.MotionCompensation == MotionConstantVelocity {
		// The working set was de-distorted before the solve; the full
		// input has not been. Re-express its raw positions in the
		// scan-end frame so both corrected sets compensate intra-scan
		// motion the same way.
		distortToEnd(all, final)
	}
	for i := range all {
		all[i].FrameIndex = index
		all[i].World = o.correctedWorld(final, all[i])
	}
	summary.AllCorrectedPoints = all
	summary.Success = true

	mapVoxel := o.mapVoxelSize(index)
	o.voxelMap.AddPoints(working, mapVoxel, o.options.MaxNumPointsInVoxel, o.options.MinDistancePoints)
	if index >= o.options.InitNumFrames {
		o.voxelMap.RemovePointsFarFromLocation(final.End.Translation, o.options.MaxDistance)
	}

	o.trajectory = append(o.trajectory, final)
	o.registeredFrames++

	if o.options.DebugPrint {
		log.Printf("[odom] frame %d registered: attempts=%d keypoints=%d rel_dist=%.3fm rel_orient=%.2fdeg map=%d points",
			index, summary.NumberOfAttempts, summary.NumberKeypoints, summary.RelativeDistance,
			units.RadToDeg(summary.RelativeOrientation), o.voxelMap.Size())
	}
}

// correctedWorld maps a sensor-frame point into the map frame under the
// final pose pair, honouring the motion-compensation mode: rigid modes use
// the end pose, distortion-aware modes interpolate per timestamp.
func (o *Odometry) correctedWorld(frame TrajectoryFrame, p Point3D) Vec3 {
	if o.options.CTICP.Distance == CostCTPointToPlane || o.options.CTICP.PointToPlaneWithDistortion {
		return frame.PoseAt(p.AlphaTimestamp).Apply(p.Raw)
	}
	return frame.End.Apply(p.Raw)
}

// mapVoxelSize returns the map insertion voxel size for the given frame
// index: coarse bootstrap parameters for the first InitNumFrames frames,
// steady-state afterwards.
func (o *Odometry) mapVoxelSize(index int) float64 {
	if index < o.options.InitNumFrames {
		return o.options.InitVoxelSize
	}
	return o.options.VoxelSize
}

// distortToEnd de-distorts a working point set once from the initial motion
// guess, re-expressing every point in the scan-end frame. Used by the
// constant-velocity compensation mode before the rigid solve.
func distortToEnd(points []Point3D, guess TrajectoryFrame) {
	endInv := guess.End.Inverse()
	for i := range points {
		p := &points[i]
		p.Raw = endInv.Apply(guess.PoseAt(p.AlphaTimestamp).Apply(p.Raw))
	}
}

func clonePoints(points []Point3D) []Point3D {
	out := make([]Point3D, len(points))
	copy(out, points)
	return out
}

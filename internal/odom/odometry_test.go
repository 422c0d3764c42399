package odom

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// stubRegistrar is a controllable solver for orchestration tests. When err
// is nil it leaves the guess untouched and corrects the keypoints by the
// guess's end pose.
type stubRegistrar struct {
	err   error
	calls int
	apply func(frame *TrajectoryFrame)
}

func (s *stubRegistrar) Register(m *VoxelHashMap, keypoints []Point3D, frame *TrajectoryFrame, previous *TrajectoryFrame, opts CTICPOptions, mapVoxelSize float64) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.apply != nil {
		s.apply(frame)
	}
	for i := range keypoints {
		keypoints[i].World = frame.End.Apply(keypoints[i].Raw)
	}
	return nil
}

// cornerRoomScan generates a dense synthetic scan of three orthogonal
// planes. Positions sit at 0.05m off the 0.2m lattice so voxel assignment
// never lands on a floating-point boundary.
func cornerRoomScan() []Point3D {
	var points []Point3D
	n := 0
	for i := 0; i <= 30; i++ {
		for j := 0; j <= 30; j++ {
			a := float64(i)*0.2 + 0.05
			b := float64(j)*0.2 + 0.05
			for _, raw := range []Vec3{{a, b, 0.05}, {0.05, a, b}, {a, 0.05, b}} {
				points = append(points, NewPoint(raw[0], raw[1], raw[2], float64(n%100)/99))
				n++
			}
		}
	}
	return points
}

func smallScan() []Point3D {
	return []Point3D{
		NewPoint(1, 0, 0, 0),
		NewPoint(0, 1, 0, 0.5),
		NewPoint(0, 0, 1, 1),
	}
}

func TestRegisterFirstFrame(t *testing.T) {
	o := newTestOdometry(t, DefaultOdometryOptions())

	summary, err := o.RegisterFrame(cornerRoomScan())
	if err != nil {
		t.Fatalf("RegisterFrame: %v", err)
	}
	if !summary.Success {
		t.Fatalf("first frame rejected: %s", summary.ErrorMessage)
	}
	if summary.NumberOfAttempts != 1 {
		t.Errorf("NumberOfAttempts = %d, want 1", summary.NumberOfAttempts)
	}
	if o.RegisteredFrames() != 1 {
		t.Errorf("RegisteredFrames = %d, want 1", o.RegisteredFrames())
	}
	if o.MapSize() == 0 {
		t.Error("map empty after first frame")
	}
	pose, err := o.LastInsertedPose()
	if err != nil {
		t.Fatalf("LastInsertedPose: %v", err)
	}
	if pose.Translation.Norm() > 1e-9 {
		t.Errorf("first pose translation = %v, want identity", pose.Translation)
	}
}

func TestStaticScanAgainstEmptyMap(t *testing.T) {
	opts := DefaultOdometryOptions()
	opts.MotionCompensation = MotionNone
	o := newTestOdometry(t, opts)

	summary, err := o.RegisterFrame(cornerRoomScan())
	if err != nil {
		t.Fatalf("RegisterFrame: %v", err)
	}
	if !summary.Success {
		t.Fatalf("static scan rejected: %s", summary.ErrorMessage)
	}
	if summary.RelativeDistance > 1e-9 {
		t.Errorf("RelativeDistance = %v, want ~0", summary.RelativeDistance)
	}
	// Map and working subsample use the same bootstrap voxel size, so every
	// subsampled point lands in its own map voxel.
	if o.MapSize() != summary.SampleSize {
		t.Errorf("MapSize = %d, want %d (one map point per subsampled point)", o.MapSize(), summary.SampleSize)
	}
}

func TestDegenerateScanExhaustsAttempts(t *testing.T) {
	opts := DefaultOdometryOptions()
	opts.RobustRegistration = true
	o := newTestOdometry(t, opts)

	if _, err := o.RegisterFrame(cornerRoomScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}

	// Far too few keypoints for a stable solve: every attempt must fail.
	summary, err := o.RegisterFrame(smallScan())
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if summary.Success {
		t.Fatal("degenerate scan should not register")
	}
	if summary.NumberOfAttempts != opts.RobustNumAttempts {
		t.Errorf("NumberOfAttempts = %d, want %d", summary.NumberOfAttempts, opts.RobustNumAttempts)
	}
	if summary.ErrorMessage == "" {
		t.Error("exhaustion must carry a non-empty error message")
	}
}

func TestRegisterEmptyFrame(t *testing.T) {
	o := newTestOdometry(t, DefaultOdometryOptions())
	if _, err := o.RegisterFrame(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
	if o.RegisteredFrames() != 0 {
		t.Error("empty frame must not advance the frame counter")
	}
}

func TestLastInsertedPoseBeforeFirstFrame(t *testing.T) {
	o := newTestOdometry(t, DefaultOdometryOptions())
	if _, err := o.LastInsertedPose(); err == nil {
		t.Fatal("expected error before any frame is registered")
	}
}

func TestStationarySequenceStaysAtIdentity(t *testing.T) {
	o := newTestOdometry(t, DefaultOdometryOptions())
	scan := cornerRoomScan()

	for i := 0; i < 3; i++ {
		summary, err := o.RegisterFrame(scan)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !summary.Success {
			t.Fatalf("frame %d rejected: %s", i, summary.ErrorMessage)
		}
	}

	pose, err := o.LastInsertedPose()
	if err != nil {
		t.Fatalf("LastInsertedPose: %v", err)
	}
	if got := pose.Translation.Norm(); got > 1e-3 {
		t.Errorf("drift after stationary sequence = %v m, want ~0", got)
	}
	if got := len(o.Trajectory()); got != 3 {
		t.Errorf("trajectory length = %d, want 3", got)
	}
}

func TestStationarySequenceIsDeterministic(t *testing.T) {
	scan := cornerRoomScan()

	run := func() []TrajectoryFrame {
		o := newTestOdometry(t, DefaultOdometryOptions())
		for i := 0; i < 3; i++ {
			if _, err := o.RegisterFrame(scan); err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
		}
		return o.Trajectory()
	}

	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("two identical runs diverged (-first +second):\n%s", diff)
	}
}

func TestRegisterFrameWithEstimate(t *testing.T) {
	stub := &stubRegistrar{}
	o, err := NewOdometryWithRegistrar(DefaultOdometryOptions(), stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}

	if _, err := o.RegisterFrame(smallScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}

	estimate := NewTrajectoryFrame()
	estimate.Begin.Translation = Vec3{4.9, 0, 0}
	estimate.End.Translation = Vec3{5, 0, 0}
	summary, err := o.RegisterFrameWithEstimate(smallScan(), estimate)
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if !summary.Success {
		t.Fatalf("frame 1 rejected: %s", summary.ErrorMessage)
	}
	if !vecsClose(summary.Frame.End.Translation, Vec3{5, 0, 0}, 1e-9) {
		t.Errorf("estimate ignored: end translation = %v, want (5,0,0)", summary.Frame.End.Translation)
	}
}

func TestConstantVelocityInitialization(t *testing.T) {
	stub := &stubRegistrar{}
	o, err := NewOdometryWithRegistrar(DefaultOdometryOptions(), stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}

	if _, err := o.RegisterFrame(smallScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}

	// Frame 1 ends 1m down the x axis.
	estimate := NewTrajectoryFrame()
	estimate.End.Translation = Vec3{1, 0, 0}
	if _, err := o.RegisterFrameWithEstimate(smallScan(), estimate); err != nil {
		t.Fatalf("frame 1: %v", err)
	}

	// Frame 2 gets no estimate: extrapolation should continue the motion,
	// beginning where frame 1 ended and ending another 1m along.
	summary, err := o.RegisterFrame(smallScan())
	if err != nil {
		t.Fatalf("frame 2: %v", err)
	}
	if !vecsClose(summary.Frame.Begin.Translation, Vec3{1, 0, 0}, 1e-9) {
		t.Errorf("begin = %v, want (1,0,0)", summary.Frame.Begin.Translation)
	}
	if !vecsClose(summary.Frame.End.Translation, Vec3{2, 0, 0}, 1e-9) {
		t.Errorf("end = %v, want (2,0,0)", summary.Frame.End.Translation)
	}
}

func TestInitializationNoneContinuesLastPose(t *testing.T) {
	opts := DefaultOdometryOptions()
	opts.Initialization = InitNone
	stub := &stubRegistrar{}
	o, err := NewOdometryWithRegistrar(opts, stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}

	if _, err := o.RegisterFrame(smallScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	estimate := NewTrajectoryFrame()
	estimate.End.Translation = Vec3{1, 0, 0}
	if _, err := o.RegisterFrameWithEstimate(smallScan(), estimate); err != nil {
		t.Fatalf("frame 1: %v", err)
	}

	summary, err := o.RegisterFrame(smallScan())
	if err != nil {
		t.Fatalf("frame 2: %v", err)
	}
	if !vecsClose(summary.Frame.End.Translation, Vec3{1, 0, 0}, 1e-9) {
		t.Errorf("end = %v, want (1,0,0): zero-motion continuation", summary.Frame.End.Translation)
	}
}

func TestRobustRetryExhaustion(t *testing.T) {
	opts := DefaultOdometryOptions()
	opts.RobustRegistration = true
	opts.RobustNumAttempts = 3
	stub := &stubRegistrar{}
	o, err := NewOdometryWithRegistrar(opts, stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}

	if _, err := o.RegisterFrame(cornerRoomScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}

	stub.err = fmt.Errorf("no correspondences")
	summary, err := o.RegisterFrame(cornerRoomScan())
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if summary.Success {
		t.Fatal("frame 1 should have failed")
	}
	if summary.NumberOfAttempts != 3 {
		t.Errorf("NumberOfAttempts = %d, want 3", summary.NumberOfAttempts)
	}
	if stub.calls != 3 {
		t.Errorf("solver called %d times, want 3", stub.calls)
	}
	if summary.ErrorMessage == "" {
		t.Error("failed frame must carry a non-empty error message")
	}
	if !strings.Contains(summary.ErrorMessage, "3 attempt") {
		t.Errorf("error message = %q, want attempt count", summary.ErrorMessage)
	}

	// Failed frames must not enter the trajectory or advance the counter.
	if got := len(o.Trajectory()); got != 1 {
		t.Errorf("trajectory length = %d, want 1", got)
	}
	if o.RegisteredFrames() != 1 {
		t.Errorf("RegisteredFrames = %d, want 1", o.RegisteredFrames())
	}
}

func TestRobustFailEarly(t *testing.T) {
	opts := DefaultOdometryOptions()
	opts.RobustRegistration = true
	opts.RobustNumAttempts = 6
	opts.RobustFailEarly = true
	stub := &stubRegistrar{}
	o, err := NewOdometryWithRegistrar(opts, stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}

	if _, err := o.RegisterFrame(cornerRoomScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}

	stub.err = fmt.Errorf("no correspondences")
	summary, err := o.RegisterFrame(cornerRoomScan())
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if summary.Success {
		t.Fatal("frame 1 should have failed")
	}
	if summary.NumberOfAttempts != 1 {
		t.Errorf("NumberOfAttempts = %d, want 1 with fail-early", summary.NumberOfAttempts)
	}
}

func TestMapEvictionOnTranslation(t *testing.T) {
	opts := DefaultOdometryOptions()
	opts.InitNumFrames = 0 // steady-state parameters from the first frame
	opts.MaxDistance = 100
	stub := &stubRegistrar{}
	o, err := NewOdometryWithRegistrar(opts, stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}

	if _, err := o.RegisterFrame(smallScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	sizeAfterFirst := o.MapSize()
	if sizeAfterFirst == 0 {
		t.Fatal("map empty after first frame")
	}

	// Jump 200m: frame 0's voxels are now beyond the eviction radius.
	estimate := NewTrajectoryFrame()
	estimate.Begin.Translation = Vec3{200, 0, 0}
	estimate.End.Translation = Vec3{200, 0, 0}
	if _, err := o.RegisterFrameWithEstimate(smallScan(), estimate); err != nil {
		t.Fatalf("frame 1: %v", err)
	}

	for _, p := range o.GetLocalMap() {
		if p.Sub(Vec3{200, 0, 0}).Norm() > opts.MaxDistance {
			t.Errorf("point %v survived eviction beyond %vm", p, opts.MaxDistance)
		}
	}
}

func TestTrajectoryReturnsCopy(t *testing.T) {
	stub := &stubRegistrar{}
	o, err := NewOdometryWithRegistrar(DefaultOdometryOptions(), stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}
	if _, err := o.RegisterFrame(smallScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}

	traj := o.Trajectory()
	traj[0].End.Translation = Vec3{99, 99, 99}

	pose, err := o.LastInsertedPose()
	if err != nil {
		t.Fatalf("LastInsertedPose: %v", err)
	}
	if pose.Translation.Norm() > 1e-9 {
		t.Error("mutating the returned trajectory changed engine state")
	}
}

func TestSummaryCorrectedPoints(t *testing.T) {
	o := newTestOdometry(t, DefaultOdometryOptions())
	scan := cornerRoomScan()

	summary, err := o.RegisterFrame(scan)
	if err != nil {
		t.Fatalf("RegisterFrame: %v", err)
	}
	if len(summary.CorrectedPoints) == 0 {
		t.Error("no corrected keypoints in summary")
	}
	if len(summary.AllCorrectedPoints) != len(scan) {
		t.Errorf("AllCorrectedPoints = %d points, want %d", len(summary.AllCorrectedPoints), len(scan))
	}
	for _, p := range summary.AllCorrectedPoints {
		if p.FrameIndex != 0 {
			t.Fatalf("corrected point has FrameIndex %d, want 0", p.FrameIndex)
		}
	}
}

func TestDistanceCorrectionMatchesBeginDiscontinuity(t *testing.T) {
	// A solver that lands the begin pose away from the previous end pose
	// must have that gap reported as the distance correction.
	stub := &stubRegistrar{apply: func(frame *TrajectoryFrame) {
		frame.Begin.Translation = frame.Begin.Translation.Add(Vec3{0.3, 0, 0})
	}}
	o, err := NewOdometryWithRegistrar(DefaultOdometryOptions(), stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}

	if _, err := o.RegisterFrame(smallScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}
	prevEnd := o.Trajectory()[0].End.Translation

	summary, err := o.RegisterFrame(smallScan())
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	want := summary.Frame.Begin.Translation.Sub(prevEnd).Norm()
	if diff := summary.DistanceCorrection - want; diff < -1e-12 || diff > 1e-12 {
		t.Errorf("DistanceCorrection = %v, want begin/prev-end gap %v", summary.DistanceCorrection, want)
	}
	if summary.DistanceCorrection < 0.3-1e-9 || summary.DistanceCorrection > 0.3+1e-9 {
		t.Errorf("DistanceCorrection = %v, want 0.3", summary.DistanceCorrection)
	}
}

func TestConstantVelocityCompensatesAllCorrectedPoints(t *testing.T) {
	opts := DefaultOdometryOptions()
	opts.MotionCompensation = MotionConstantVelocity

	stub := &stubRegistrar{apply: func(frame *TrajectoryFrame) {
		frame.End.Translation = Vec3{0.4, 0, 0}
	}}
	o, err := NewOdometryWithRegistrar(opts, stub)
	if err != nil {
		t.Fatalf("NewOdometryWithRegistrar: %v", err)
	}

	if _, err := o.RegisterFrame(smallScan()); err != nil {
		t.Fatalf("frame 0: %v", err)
	}

	scan := smallScan()
	summary, err := o.RegisterFrame(scan)
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if !summary.Success {
		t.Fatalf("frame 1 rejected: %s", summary.ErrorMessage)
	}

	// Every point of the full input must land at the pose interpolated for
	// its timestamp, exactly like the keypoints do. A scan-start point with
	// alpha 0 stays at the begin pose rather than being dragged 0.4m along
	// with the end pose.
	final := summary.Frame
	for i, p := range summary.AllCorrectedPoints {
		want := final.PoseAt(scan[i].AlphaTimestamp).Apply(scan[i].Raw)
		if !vecsClose(p.World, want, 1e-9) {
			t.Errorf("point %d (alpha %.2f): world = %v, want %v", i, scan[i].AlphaTimestamp, p.World, want)
		}
	}
}

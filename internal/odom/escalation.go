package odom

// EscalationPolicy decides how registration parameters change between
// robust-retry attempts. It is pure: the same inputs always produce the
// same adjusted parameters, which keeps the retry schedule testable in
// isolation from the solver.
type EscalationPolicy interface {
	// Escalate receives the 1-based number of the attempt that just
	// failed, the assessed reason, and the parameters that attempt used.
	// It returns the parameters for the next attempt.
	Escalate(failedAttempt int, reason FailureReason, opts CTICPOptions, sampleVoxelSize float64) (CTICPOptions, float64)
}

// DefaultEscalationPolicy widens the solver's view of the map a step at a
// time. Schedule per failed attempt:
//
//   - grow the voxel-neighborhood search radius by one, capped at
//     MaxVoxelNeighborhood, so the solver finds correspondences across
//     larger gaps;
//   - raise the iteration cap by half of its current value, giving the
//     wider search room to converge;
//   - when the assessor blamed the map (FailureMapNeighborhood), shrink
//     the sample voxel size by 1/1.5 (floored at MinSampleVoxelSize) to
//     admit more keypoints instead of pushing the optimizer harder.
type DefaultEscalationPolicy struct {
	MaxVoxelNeighborhood int32   // Search radius cap, from RobustMaxVoxelNeighborhood
	MinSampleVoxelSize   float64 // Floor for keypoint sampling escalation
}

// Escalate implements EscalationPolicy.
func (p DefaultEscalationPolicy) Escalate(failedAttempt int, reason FailureReason, opts CTICPOptions, sampleVoxelSize float64) (CTICPOptions, float64) {
	if opts.VoxelNeighborhood < p.MaxVoxelNeighborhood {
		opts.VoxelNeighborhood++
	}
	opts.NumIters += opts.NumIters / 2

	if reason == FailureMapNeighborhood {
		next := sampleVoxelSize / 1.5
		if next < p.MinSampleVoxelSize {
			next = p.MinSampleVoxelSize
		}
		sampleVoxelSize = next
	}
	return opts, sampleVoxelSize
}

package odom

import (
	"fmt"
	"io"
)

// Registration quality assessment: the gate between a solver result and the
// map. The assessor is read-only (it never touches the map or the trajectory)
// and reports both a verdict and the suspected bottleneck so the retry loop
// can escalate the right parameter.

// AssessRegistration checks a completed attempt for self-consistency.
// points are the corrected keypoints in the map frame. An optional logSink
// receives one diagnostic line per finding; pass nil to discard.
func (o *Odometry) AssessRegistration(points []Point3D, summary *RegistrationSummary, logSink io.Writer) (bool, FailureReason) {
	if !summary.Success {
		logAssessment(logSink, "solver failure: %s", summary.ErrorMessage)
		return false, FailureConvergence
	}

	if summary.RelativeDistance > o.options.RobustRelativeTransThreshold {
		logAssessment(logSink, "relative distance %.3fm exceeds threshold %.3fm",
			summary.RelativeDistance, o.options.RobustRelativeTransThreshold)
		return false, FailureRelativeMotion
	}

	if summary.DistanceCorrection > o.options.DistanceErrorThreshold {
		logAssessment(logSink, "distance correction %.3fm exceeds ego-motion error threshold %.3fm",
			summary.DistanceCorrection, o.options.DistanceErrorThreshold)
		return false, FailureDiscontinuity
	}

	// The neighborhood test only makes sense when the frame actually
	// moved: a static frame constrains nothing either way.
	if summary.RelativeDistance > o.options.RobustNeighborhoodMinDist ||
		summary.RelativeOrientation > o.options.RobustNeighborhoodMinOrientation {
		ratio := o.keypointNeighborOccupancy(points)
		if ratio < o.options.RobustFullVoxelThreshold {
			logAssessment(logSink, "neighbor occupancy %.2f below threshold %.2f: local map under-constrains the solve",
				ratio, o.options.RobustFullVoxelThreshold)
			return false, FailureMapNeighborhood
		}
	}

	return true, FailureNone
}

// keypointNeighborOccupancy averages, over the corrected keypoints, the
// fraction of occupied voxels in the 1-voxel cube around each keypoint.
// Values near 1 mean the keypoints sit in well-observed map regions; low
// values flag featureless or freshly-entered geometry.
func (o *Odometry) keypointNeighborOccupancy(points []Point3D) float64 {
	if len(points) == 0 {
		return 0
	}
	voxelSize := o.mapVoxelSize(o.registeredFrames)
	total := 0.0
	for i := range points {
		total += o.voxelMap.NeighborOccupancy(points[i].World, voxelSize, 1)
	}
	return total / float64(len(points))
}

func logAssessment(sink io.Writer, format string, args ...any) {
	if sink == nil {
		return
	}
	fmt.Fprintf(sink, "[odom/assess] "+format+"\n", args...)
}

package odom

import (
	"github.com/banshee-data/odometry.report/internal/config"
)

// DefaultTunedOptions returns OdometryOptions loaded from the canonical
// tuning defaults file (config/tuning.defaults.json). Panics if the file
// cannot be found, so it is intended for tests and binaries that have
// already validated config availability.
func DefaultTunedOptions() OdometryOptions {
	return OptionsFromTuning(config.MustLoadDefaultConfig())
}

// OptionsFromTuning builds OdometryOptions from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func OptionsFromTuning(cfg *config.TuningConfig) OdometryOptions {
	return OdometryOptions{
		InitVoxelSize:                    cfg.GetInitVoxelSize(),
		InitSampleVoxelSize:              cfg.GetInitSampleVoxelSize(),
		InitNumFrames:                    cfg.GetInitNumFrames(),
		VoxelSize:                        cfg.GetVoxelSize(),
		SampleVoxelSize:                  cfg.GetSampleVoxelSize(),
		MaxDistance:                      cfg.GetMaxDistance(),
		MaxNumPointsInVoxel:              cfg.GetMaxNumPointsInVoxel(),
		MinDistancePoints:                cfg.GetMinDistancePoints(),
		DistanceErrorThreshold:           cfg.GetDistanceErrorThreshold(),
		RobustRegistration:               cfg.GetRobustRegistration(),
		RobustFullVoxelThreshold:         cfg.GetRobustFullVoxelThreshold(),
		RobustNeighborhoodMinDist:        cfg.GetRobustNeighborhoodMinDist(),
		RobustNeighborhoodMinOrientation: cfg.GetRobustNeighborhoodMinOrientation(),
		RobustRelativeTransThreshold:     cfg.GetRobustRelativeTransThreshold(),
		RobustFailEarly:                  cfg.GetRobustFailEarly(),
		RobustNumAttempts:                cfg.GetRobustNumAttempts(),
		RobustMaxVoxelNeighborhood:       int32(cfg.GetRobustMaxVoxelNeighborhood()),
		MotionCompensation:               MotionCompensation(cfg.GetMotionCompensation()),
		Initialization:                   Initialization(cfg.GetInitialization()),
		DebugPrint:                       cfg.GetDebugPrint(),
		CTICP: CTICPOptions{
			NumIters:                 cfg.GetNumIters(),
			VoxelNeighborhood:        int32(cfg.GetVoxelNeighborhood()),
			MaxNumberNeighbors:       cfg.GetMaxNumberNeighbors(),
			MinNumberNeighbors:       cfg.GetMinNumberNeighbors(),
			MaxDistToPlane:           cfg.GetMaxDistToPlane(),
			MinNumberKeypoints:       cfg.GetMinNumberKeypoints(),
			ThresholdOrientationNorm: cfg.GetThresholdOrientationNorm(),
			ThresholdTranslationNorm: cfg.GetThresholdTranslationNorm(),
			BetaLocationConsistency:  cfg.GetBetaLocationConsistency(),
			BetaConstantVelocity:     cfg.GetBetaConstantVelocity(),
			DebugPrint:               cfg.GetDebugPrint(),
		},
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for odometry tuning
// parameters. Every field is optional: fields omitted from the JSON file
// fall back to the defaults provided by the Get* accessors, so partial
// configs are safe.
type TuningConfig struct {
	// Map bootstrap params
	InitVoxelSize       *float64 `json:"init_voxel_size,omitempty"`
	InitSampleVoxelSize *float64 `json:"init_sample_voxel_size,omitempty"`
	InitNumFrames       *int     `json:"init_num_frames,omitempty"`

	// Steady-state map params
	VoxelSize           *float64 `json:"voxel_size,omitempty"`
	SampleVoxelSize     *float64 `json:"sample_voxel_size,omitempty"`
	MaxDistance         *float64 `json:"max_distance,omitempty"`
	MaxNumPointsInVoxel *int     `json:"max_num_points_in_voxel,omitempty"`
	MinDistancePoints   *float64 `json:"min_distance_points,omitempty"`

	// Consistency and robust-retry params
	DistanceErrorThreshold           *float64 `json:"distance_error_threshold,omitempty"`
	RobustRegistration               *bool    `json:"robust_registration,omitempty"`
	RobustFullVoxelThreshold         *float64 `json:"robust_full_voxel_threshold,omitempty"`
	RobustNeighborhoodMinDist        *float64 `json:"robust_neighborhood_min_dist,omitempty"`
	RobustNeighborhoodMinOrientation *float64 `json:"robust_neighborhood_min_orientation,omitempty"`
	RobustRelativeTransThreshold     *float64 `json:"robust_relative_trans_threshold,omitempty"`
	RobustFailEarly                  *bool    `json:"robust_fail_early,omitempty"`
	RobustNumAttempts                *int     `json:"robust_num_attempts,omitempty"`
	RobustMaxVoxelNeighborhood       *int     `json:"robust_max_voxel_neighborhood,omitempty"`

	// Mode selection
	MotionCompensation *string `json:"motion_compensation,omitempty"`
	Initialization     *string `json:"initialization,omitempty"`

	// Solver params (optional)
	NumIters                 *int     `json:"num_iters,omitempty"`
	VoxelNeighborhood        *int     `json:"voxel_neighborhood,omitempty"`
	MaxNumberNeighbors       *int     `json:"max_number_neighbors,omitempty"`
	MinNumberNeighbors       *int     `json:"min_number_neighbors,omitempty"`
	MaxDistToPlane           *float64 `json:"max_dist_to_plane,omitempty"`
	MinNumberKeypoints       *int     `json:"min_number_keypoints,omitempty"`
	ThresholdOrientationNorm *float64 `json:"threshold_orientation_norm,omitempty"`
	ThresholdTranslationNorm *float64 `json:"threshold_translation_norm,omitempty"`
	BetaLocationConsistency  *float64 `json:"beta_location_consistency,omitempty"`
	BetaConstantVelocity     *float64 `json:"beta_constant_velocity,omitempty"`

	DebugPrint *bool `json:"debug_print,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/odom/
		"../../../../" + DefaultConfigPath, // from internal/odom/storage/
		"../../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"init_voxel_size":        c.InitVoxelSize,
		"init_sample_voxel_size": c.InitSampleVoxelSize,
		"voxel_size":             c.VoxelSize,
		"sample_voxel_size":      c.SampleVoxelSize,
		"max_distance":           c.MaxDistance,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if c.MinDistancePoints != nil && *c.MinDistancePoints < 0 {
		return fmt.Errorf("min_distance_points must be non-negative, got %f", *c.MinDistancePoints)
	}
	if c.MaxNumPointsInVoxel != nil && *c.MaxNumPointsInVoxel < 1 {
		return fmt.Errorf("max_num_points_in_voxel must be >= 1, got %d", *c.MaxNumPointsInVoxel)
	}
	if c.RobustFullVoxelThreshold != nil {
		if *c.RobustFullVoxelThreshold < 0 || *c.RobustFullVoxelThreshold > 1 {
			return fmt.Errorf("robust_full_voxel_threshold must be between 0 and 1, got %f", *c.RobustFullVoxelThreshold)
		}
	}
	if c.RobustNumAttempts != nil && *c.RobustNumAttempts < 1 {
		return fmt.Errorf("robust_num_attempts must be >= 1, got %d", *c.RobustNumAttempts)
	}

	if c.MotionCompensation != nil {
		switch *c.MotionCompensation {
		case "none", "constant_velocity", "iterative", "continuous":
		default:
			return fmt.Errorf("unknown motion_compensation %q", *c.MotionCompensation)
		}
	}
	if c.Initialization != nil {
		switch *c.Initialization {
		case "none", "constant_velocity":
		default:
			return fmt.Errorf("unknown initialization %q", *c.Initialization)
		}
	}

	return nil
}

// GetInitVoxelSize returns the init_voxel_size value or the default.
func (c *TuningConfig) GetInitVoxelSize() float64 {
	if c.InitVoxelSize == nil {
		return 0.2
	}
	return *c.InitVoxelSize
}

// GetInitSampleVoxelSize returns the init_sample_voxel_size value or the default.
func (c *TuningConfig) GetInitSampleVoxelSize() float64 {
	if c.InitSampleVoxelSize == nil {
		return 1.0
	}
	return *c.InitSampleVoxelSize
}

// GetInitNumFrames returns the init_num_frames value or the default.
func (c *TuningConfig) GetInitNumFrames() int {
	if c.InitNumFrames == nil {
		return 20
	}
	return *c.InitNumFrames
}

// GetVoxelSize returns the voxel_size value or the default.
func (c *TuningConfig) GetVoxelSize() float64 {
	if c.VoxelSize == nil {
		return 0.5
	}
	return *c.VoxelSize
}

// GetSampleVoxelSize returns the sample_voxel_size value or the default.
func (c *TuningConfig) GetSampleVoxelSize() float64 {
	if c.SampleVoxelSize == nil {
		return 1.5
	}
	return *c.SampleVoxelSize
}

// GetMaxDistance returns the max_distance value or the default.
func (c *TuningConfig) GetMaxDistance() float64 {
	if c.MaxDistance == nil {
		return 100.0
	}
	return *c.MaxDistance
}

// GetMaxNumPointsInVoxel returns the max_num_points_in_voxel value or the default.
func (c *TuningConfig) GetMaxNumPointsInVoxel() int {
	if c.MaxNumPointsInVoxel == nil {
		return 20
	}
	return *c.MaxNumPointsInVoxel
}

// GetMinDistancePoints returns the min_distance_points value or the default.
func (c *TuningConfig) GetMinDistancePoints() float64 {
	if c.MinDistancePoints == nil {
		return 0.1
	}
	return *c.MinDistancePoints
}

// GetDistanceErrorThreshold returns the distance_error_threshold value or the default.
func (c *TuningConfig) GetDistanceErrorThreshold() float64 {
	if c.DistanceErrorThreshold == nil {
		return 5.0
	}
	return *c.DistanceErrorThreshold
}

// GetRobustRegistration returns the robust_registration value or the default.
func (c *TuningConfig) GetRobustRegistration() bool {
	if c.RobustRegistration == nil {
		return false
	}
	return *c.RobustRegistration
}

// GetRobustFullVoxelThreshold returns the robust_full_voxel_threshold value or the default.
func (c *TuningConfig) GetRobustFullVoxelThreshold() float64 {
	if c.RobustFullVoxelThreshold == nil {
		return 0.7
	}
	return *c.RobustFullVoxelThreshold
}

// GetRobustNeighborhoodMinDist returns the robust_neighborhood_min_dist value or the default.
func (c *TuningConfig) GetRobustNeighborhoodMinDist() float64 {
	if c.RobustNeighborhoodMinDist == nil {
		return 0.10
	}
	return *c.RobustNeighborhoodMinDist
}

// GetRobustNeighborhoodMinOrientation returns the robust_neighborhood_min_orientation value or the default.
func (c *TuningConfig) GetRobustNeighborhoodMinOrientation() float64 {
	if c.RobustNeighborhoodMinOrientation == nil {
		return 0.01
	}
	return *c.RobustNeighborhoodMinOrientation
}

// GetRobustRelativeTransThreshold returns the robust_relative_trans_threshold value or the default.
func (c *TuningConfig) GetRobustRelativeTransThreshold() float64 {
	if c.RobustRelativeTransThreshold == nil {
		return 1.0
	}
	return *c.RobustRelativeTransThreshold
}

// GetRobustFailEarly returns the robust_fail_early value or the default.
func (c *TuningConfig) GetRobustFailEarly() bool {
	if c.RobustFailEarly == nil {
		return false
	}
	return *c.RobustFailEarly
}

// GetRobustNumAttempts returns the robust_num_attempts value or the default.
func (c *TuningConfig) GetRobustNumAttempts() int {
	if c.RobustNumAttempts == nil {
		return 6
	}
	return *c.RobustNumAttempts
}

// GetRobustMaxVoxelNeighborhood returns the robust_max_voxel_neighborhood value or the default.
func (c *TuningConfig) GetRobustMaxVoxelNeighborhood() int {
	if c.RobustMaxVoxelNeighborhood == nil {
		return 4
	}
	return *c.RobustMaxVoxelNeighborhood
}

// GetMotionCompensation returns the motion_compensation value or the default.
func (c *TuningConfig) GetMotionCompensation() string {
	if c.MotionCompensation == nil {
		return "continuous"
	}
	return *c.MotionCompensation
}

// GetInitialization returns the initialization value or the default.
func (c *TuningConfig) GetInitialization() string {
	if c.Initialization == nil {
		return "constant_velocity"
	}
	return *c.Initialization
}

// GetNumIters returns the num_iters value or the default.
func (c *TuningConfig) GetNumIters() int {
	if c.NumIters == nil {
		return 5
	}
	return *c.NumIters
}

// GetVoxelNeighborhood returns the voxel_neighborhood value or the default.
func (c *TuningConfig) GetVoxelNeighborhood() int {
	if c.VoxelNeighborhood == nil {
		return 1
	}
	return *c.VoxelNeighborhood
}

// GetMaxNumberNeighbors returns the max_number_neighbors value or the default.
func (c *TuningConfig) GetMaxNumberNeighbors() int {
	if c.MaxNumberNeighbors == nil {
		return 20
	}
	return *c.MaxNumberNeighbors
}

// GetMinNumberNeighbors returns the min_number_neighbors value or the default.
func (c *TuningConfig) GetMinNumberNeighbors() int {
	if c.MinNumberNeighbors == nil {
		return 5
	}
	return *c.MinNumberNeighbors
}

// GetMaxDistToPlane returns the max_dist_to_plane value or the default.
func (c *TuningConfig) GetMaxDistToPlane() float64 {
	if c.MaxDistToPlane == nil {
		return 0.3
	}
	return *c.MaxDistToPlane
}

// GetMinNumberKeypoints returns the min_number_keypoints value or the default.
func (c *TuningConfig) GetMinNumberKeypoints() int {
	if c.MinNumberKeypoints == nil {
		return 20
	}
	return *c.MinNumberKeypoints
}

// GetThresholdOrientationNorm returns the threshold_orientation_norm value or the default.
func (c *TuningConfig) GetThresholdOrientationNorm() float64 {
	if c.ThresholdOrientationNorm == nil {
		return 1e-4
	}
	return *c.ThresholdOrientationNorm
}

// GetThresholdTranslationNorm returns the threshold_translation_norm value or the default.
func (c *TuningConfig) GetThresholdTranslationNorm() float64 {
	if c.ThresholdTranslationNorm == nil {
		return 1e-3
	}
	return *c.ThresholdTranslationNorm
}

// GetBetaLocationConsistency returns the beta_location_consistency value or the default.
func (c *TuningConfig) GetBetaLocationConsistency() float64 {
	if c.BetaLocationConsistency == nil {
		return 1e-3
	}
	return *c.BetaLocationConsistency
}

// GetBetaConstantVelocity returns the beta_constant_velocity value or the default.
func (c *TuningConfig) GetBetaConstantVelocity() float64 {
	if c.BetaConstantVelocity == nil {
		return 1e-3
	}
	return *c.BetaConstantVelocity
}

// GetDebugPrint returns the debug_print value or the default.
func (c *TuningConfig) GetDebugPrint() bool {
	if c.DebugPrint == nil {
		return false
	}
	return *c.DebugPrint
}

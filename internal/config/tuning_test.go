package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	// All fields nil: accessors fall back to the documented defaults.
	if cfg.GetInitVoxelSize() != 0.2 {
		t.Errorf("GetInitVoxelSize() = %f, want 0.2", cfg.GetInitVoxelSize())
	}
	if cfg.GetVoxelSize() != 0.5 {
		t.Errorf("GetVoxelSize() = %f, want 0.5", cfg.GetVoxelSize())
	}
	if cfg.GetSampleVoxelSize() != 1.5 {
		t.Errorf("GetSampleVoxelSize() = %f, want 1.5", cfg.GetSampleVoxelSize())
	}
	if cfg.GetInitNumFrames() != 20 {
		t.Errorf("GetInitNumFrames() = %d, want 20", cfg.GetInitNumFrames())
	}
	if cfg.GetMaxDistance() != 100.0 {
		t.Errorf("GetMaxDistance() = %f, want 100", cfg.GetMaxDistance())
	}
	if cfg.GetRobustRegistration() != false {
		t.Errorf("GetRobustRegistration() = %v, want false", cfg.GetRobustRegistration())
	}
	if cfg.GetRobustNumAttempts() != 6 {
		t.Errorf("GetRobustNumAttempts() = %d, want 6", cfg.GetRobustNumAttempts())
	}
	if cfg.GetMotionCompensation() != "continuous" {
		t.Errorf("GetMotionCompensation() = %q, want continuous", cfg.GetMotionCompensation())
	}
	if cfg.GetInitialization() != "constant_velocity" {
		t.Errorf("GetInitialization() = %q, want constant_velocity", cfg.GetInitialization())
	}
	if cfg.GetNumIters() != 5 {
		t.Errorf("GetNumIters() = %d, want 5", cfg.GetNumIters())
	}
	if cfg.GetMaxDistToPlane() != 0.3 {
		t.Errorf("GetMaxDistToPlane() = %f, want 0.3", cfg.GetMaxDistToPlane())
	}
	if cfg.GetMinNumberKeypoints() != 20 {
		t.Errorf("GetMinNumberKeypoints() = %d, want 20", cfg.GetMinNumberKeypoints())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "voxel_size": 0.3,
  "sample_voxel_size": 1.0,
  "robust_registration": true,
  "robust_num_attempts": 4,
  "motion_compensation": "constant_velocity"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("LoadTuningConfig failed: %v", err)
	}

	// Overridden values.
	if cfg.GetVoxelSize() != 0.3 {
		t.Errorf("GetVoxelSize() = %f, want 0.3", cfg.GetVoxelSize())
	}
	if cfg.GetSampleVoxelSize() != 1.0 {
		t.Errorf("GetSampleVoxelSize() = %f, want 1.0", cfg.GetSampleVoxelSize())
	}
	if !cfg.GetRobustRegistration() {
		t.Error("GetRobustRegistration() = false, want true")
	}
	if cfg.GetRobustNumAttempts() != 4 {
		t.Errorf("GetRobustNumAttempts() = %d, want 4", cfg.GetRobustNumAttempts())
	}
	if cfg.GetMotionCompensation() != "constant_velocity" {
		t.Errorf("GetMotionCompensation() = %q, want constant_velocity", cfg.GetMotionCompensation())
	}

	// Omitted fields fall back to defaults.
	if cfg.GetInitVoxelSize() != 0.2 {
		t.Errorf("GetInitVoxelSize() = %f, want default 0.2", cfg.GetInitVoxelSize())
	}
	if cfg.GetMaxDistance() != 100.0 {
		t.Errorf("GetMaxDistance() = %f, want default 100", cfg.GetMaxDistance())
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("voxel_size: 0.3"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Fatal("expected error for non-.json extension")
	}
	if !strings.Contains(err.Error(), ".json") {
		t.Errorf("error = %v, want extension complaint", err)
	}
}

func TestLoadTuningConfigMissingFile(t *testing.T) {
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadTuningConfigInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.json")
	if err := os.WriteFile(configPath, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoadTuningConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"negative voxel size", `{"voxel_size": -0.5}`},
		{"zero sample voxel size", `{"sample_voxel_size": 0}`},
		{"negative min distance", `{"min_distance_points": -0.1}`},
		{"zero point budget", `{"max_num_points_in_voxel": 0}`},
		{"out of range voxel threshold", `{"robust_full_voxel_threshold": 1.5}`},
		{"zero attempts", `{"robust_num_attempts": 0}`},
		{"unknown motion compensation", `{"motion_compensation": "warp"}`},
		{"unknown initialization", `{"initialization": "psychic"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "invalid.json")
			if err := os.WriteFile(configPath, []byte(tt.json), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}
			if _, err := LoadTuningConfig(configPath); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateAcceptsEmptyConfig(t *testing.T) {
	if err := EmptyTuningConfig().Validate(); err != nil {
		t.Errorf("empty config failed validation: %v", err)
	}
}

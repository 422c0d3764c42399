package odom

// Voxel-grid downsampling. Both functions are order-stable: the first point
// seen in a voxel wins, so a fixed input order yields a fixed output.
// The registration pipeline depends on this for run-to-run determinism.

// SubSampleFrame reduces points to at most one per voxel at the given voxel
// size, preserving per-point timestamps. Keys are computed from the
// sensor-frame (Raw) position: subsampling happens before registration.
func SubSampleFrame(points []Point3D, voxelSize float64) []Point3D {
	seen := make(map[Voxel]struct{}, len(points))
	out := make([]Point3D, 0, len(points)/4+1)
	for i := range points {
		key := VoxelOf(points[i].Raw, voxelSize)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, points[i])
	}
	return out
}

// GridSampling selects registration keypoints: one representative point per
// voxel at the sample voxel size.
func GridSampling(points []Point3D, sampleVoxelSize float64) []Point3D {
	return SubSampleFrame(points, sampleVoxelSize)
}

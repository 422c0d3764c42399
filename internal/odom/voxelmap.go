package odom

import (
	"math"
	"sort"
)

// Voxel is a discretised cube index in map space.
type Voxel struct {
	X, Y, Z int32
}

// VoxelOf returns the voxel containing position v at the given voxel size.
// Floor division so that negative coordinates bucket consistently.
func VoxelOf(v Vec3, voxelSize float64) Voxel {
	return Voxel{
		X: int32(math.Floor(v[0] / voxelSize)),
		Y: int32(math.Floor(v[1] / voxelSize)),
		Z: int32(math.Floor(v[2] / voxelSize)),
	}
}

// voxelBlock is the bounded bucket of points stored per voxel.
type voxelBlock struct {
	points []Vec3
}

// VoxelHashMap is the local map: world-frame points bucketed by voxel.
//
// Invariants maintained by AddPoints: no block exceeds its point budget, and
// no two points within a block are closer than the configured minimum
// distance. The distance filter is block-local: it bounds density, it does
// not guarantee a global minimum spacing across voxel borders.
//
// The map is exclusively owned by one Odometry instance and mutated only
// from the sequential registration path, so it carries no lock.
type VoxelHashMap struct {
	voxels map[Voxel]*voxelBlock
}

// NewVoxelHashMap returns an empty map.
func NewVoxelHashMap() *VoxelHashMap {
	return &VoxelHashMap{voxels: make(map[Voxel]*voxelBlock)}
}

// AddPoint inserts a single world-frame position, subject to the block
// budget and the block-local minimum-distance filter. Re-adding a position
// already present is a no-op because of the distance filter.
func (m *VoxelHashMap) AddPoint(pos Vec3, voxelSize float64, maxNumPointsInVoxel int, minDistancePoints float64) {
	key := VoxelOf(pos, voxelSize)
	block, ok := m.voxels[key]
	if !ok {
		block = &voxelBlock{points: make([]Vec3, 0, maxNumPointsInVoxel)}
		m.voxels[key] = block
	}
	if len(block.points) >= maxNumPointsInVoxel {
		return
	}
	minSq := minDistancePoints * minDistancePoints
	for _, q := range block.points {
		if pos.Sub(q).SquaredNorm() < minSq {
			return
		}
	}
	block.points = append(block.points, pos)
}

// AddPoints inserts the world-frame positions of all points.
func (m *VoxelHashMap) AddPoints(points []Point3D, voxelSize float64, maxNumPointsInVoxel int, minDistancePoints float64) {
	for i := range points {
		m.AddPoint(points[i].World, voxelSize, maxNumPointsInVoxel, minDistancePoints)
	}
}

// RemovePointsFarFromLocation deletes every voxel whose representative point
// (the first point inserted into the block) lies farther than distance from
// location. Bounds memory as the map translates along the trajectory.
func (m *VoxelHashMap) RemovePointsFarFromLocation(location Vec3, distance float64) {
	distSq := distance * distance
	for key, block := range m.voxels {
		if len(block.points) == 0 {
			delete(m.voxels, key)
			continue
		}
		if block.points[0].Sub(location).SquaredNorm() > distSq {
			delete(m.voxels, key)
		}
	}
}

// Size returns the total number of points. O(number of voxels).
func (m *VoxelHashMap) Size() int {
	n := 0
	for _, block := range m.voxels {
		n += len(block.points)
	}
	return n
}

// NumVoxels returns the number of occupied voxels.
func (m *VoxelHashMap) NumVoxels() int {
	return len(m.voxels)
}

// Pointcloud flattens the map into a single point slice. Diagnostic/export
// path, not the registration hot path.
func (m *VoxelHashMap) Pointcloud() []Vec3 {
	out := make([]Vec3, 0, m.Size())
	for _, block := range m.voxels {
		out = append(out, block.points...)
	}
	return out
}

// HasVoxel reports whether the voxel containing pos is occupied.
func (m *VoxelHashMap) HasVoxel(pos Vec3, voxelSize float64) bool {
	block, ok := m.voxels[VoxelOf(pos, voxelSize)]
	return ok && len(block.points) > 0
}

// NeighborOccupancy returns the fraction of voxels occupied in the cube of
// radius voxels around the voxel containing pos (the centre voxel included).
// Used by the quality assessor to detect an under-constrained local map.
func (m *VoxelHashMap) NeighborOccupancy(pos Vec3, voxelSize float64, radius int32) float64 {
	centre := VoxelOf(pos, voxelSize)
	occupied, total := 0, 0
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			for dz := -radius; dz <= radius; dz++ {
				total++
				key := Voxel{centre.X + dx, centre.Y + dy, centre.Z + dz}
				if block, ok := m.voxels[key]; ok && len(block.points) > 0 {
					occupied++
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(occupied) / float64(total)
}

// searchNeighbors collects up to maxNeighbors map points nearest to query,
// scanning the cube of voxels within the given radius around the query's
// voxel. Results are sorted nearest first.
func (m *VoxelHashMap) searchNeighbors(query Vec3, voxelSize float64, radius int32, maxNeighbors int) []Vec3 {
	centre := VoxelOf(query, voxelSize)

	type candidate struct {
		pos    Vec3
		distSq float64
	}
	var candidates []candidate
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			for dz := -radius; dz <= radius; dz++ {
				key := Voxel{centre.X + dx, centre.Y + dy, centre.Z + dz}
				block, ok := m.voxels[key]
				if !ok {
					continue
				}
				for _, p := range block.points {
					candidates = append(candidates, candidate{p, p.Sub(query).SquaredNorm()})
				}
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distSq < candidates[j].distSq })
	if len(candidates) > maxNeighbors {
		candidates = candidates[:maxNeighbors]
	}
	out := make([]Vec3, len(candidates))
	for i, c := range candidates {
		out[i] = c.pos
	}
	return out
}

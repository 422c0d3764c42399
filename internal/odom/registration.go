package odom

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Registrar is the registration-solver capability: given keypoints with
// per-point timestamps, the local map, and an initial begin/end pose guess,
// refine the poses to minimise a point-to-plane cost. Implementations must
// update the keypoints' World positions on success and leave frame unchanged
// on error. Non-convergence and insufficient correspondences are returned as
// errors; the orchestrator treats them as recoverable.
type Registrar interface {
	Register(m *VoxelHashMap, keypoints []Point3D, frame *TrajectoryFrame, previous *TrajectoryFrame, opts CTICPOptions, mapVoxelSize float64) error
}

// NewCTRegistrar returns the default Gauss-Newton solver. It supports both
// cost kinds: the rigid point-to-plane solve (6 parameters, applied to the
// whole acquisition window) and the continuous-time solve (12 parameters,
// separate begin and end perturbations interpolated per point).
func NewCTRegistrar() Registrar {
	return &ctRegistrar{}
}

type ctRegistrar struct{}

// Small damping added to the normal-equation diagonal when the Cholesky
// factorisation fails on a near-singular system.
const normalEquationDamping = 1e-6

func (r *ctRegistrar) Register(m *VoxelHashMap, keypoints []Point3D, frame *TrajectoryFrame, previous *TrajectoryFrame, opts CTICPOptions, mapVoxelSize float64) error {
	if len(keypoints) < opts.MinNumberKeypoints {
		return fmt.Errorf("insufficient keypoints for registration: %d < %d", len(keypoints), opts.MinNumberKeypoints)
	}

	ct := opts.Distance == CostCTPointToPlane
	dim := 6
	if ct {
		dim = 12
	}

	working := *frame
	for iter := 0; iter < opts.NumIters; iter++ {
		a := make([]float64, dim*dim)
		b := make([]float64, dim)
		numResiduals := 0

		for i := range keypoints {
			kp := &keypoints[i]
			alpha := kp.AlphaTimestamp

			var world Vec3
			if ct || opts.PointToPlaneWithDistortion {
				world = working.PoseAt(alpha).Apply(kp.Raw)
			} else {
				world = working.End.Apply(kp.Raw)
			}

			neighbors := m.searchNeighbors(world, mapVoxelSize, opts.VoxelNeighborhood, opts.MaxNumberNeighbors)
			if len(neighbors) < opts.MinNumberNeighbors {
				continue
			}
			normal, planarity, ok := fitPlane(neighbors)
			if !ok {
				continue
			}
			residual := normal.Dot(world.Sub(neighbors[0]))
			if math.Abs(residual) > opts.MaxDistToPlane {
				continue
			}

			// Left-perturbation jacobians: d(world)/dδθ = δθ × world,
			// d(world)/dδt = I, split (1-alpha)/alpha between the begin
			// and end blocks for the continuous-time cost.
			gRot := world.Cross(normal)
			var row [12]float64
			if ct {
				wb, we := 1-alpha, alpha
				row = [12]float64{
					wb * gRot[0], wb * gRot[1], wb * gRot[2],
					wb * normal[0], wb * normal[1], wb * normal[2],
					we * gRot[0], we * gRot[1], we * gRot[2],
					we * normal[0], we * normal[1], we * normal[2],
				}
			} else {
				row = [12]float64{
					gRot[0], gRot[1], gRot[2],
					normal[0], normal[1], normal[2],
				}
			}

			accumulate(a, b, row[:dim], residual, planarity, dim)
			numResiduals++
		}

		if numResiduals < opts.MinNumberKeypoints {
			return fmt.Errorf("insufficient correspondences: %d residuals, need %d", numResiduals, opts.MinNumberKeypoints)
		}

		if ct {
			addRegularizers(a, b, &working, previous, opts)
		}

		dx, err := solveNormalEquations(a, b, dim)
		if err != nil {
			return err
		}

		rotNorm, transNorm := applyUpdate(&working, dx, ct)
		if opts.DebugPrint {
			log.Printf("[odom/icp] iter=%d residuals=%d rot_update=%.2e trans_update=%.2e",
				iter, numResiduals, rotNorm, transNorm)
		}
		if rotNorm < opts.ThresholdOrientationNorm && transNorm < opts.ThresholdTranslationNorm {
			break
		}
	}

	for i := range keypoints {
		kp := &keypoints[i]
		if ct || opts.PointToPlaneWithDistortion {
			kp.World = working.PoseAt(kp.AlphaTimestamp).Apply(kp.Raw)
		} else {
			kp.World = working.End.Apply(kp.Raw)
		}
	}
	*frame = working
	return nil
}

// accumulate adds one weighted residual row to the normal equations:
// a += w·JᵀJ, b += -w·r·J.
func accumulate(a, b, row []float64, residual, weight float64, dim int) {
	for i := 0; i < dim; i++ {
		if row[i] == 0 {
			continue
		}
		wi := weight * row[i]
		for j := i; j < dim; j++ {
			a[i*dim+j] += wi * row[j]
		}
		b[i] -= wi * residual
	}
}

// addRegularizers applies the continuous-time translation penalties:
// location consistency keeps the new begin anchored to the previous end,
// constant velocity discourages acceleration between frames. Both act on
// the translation blocks only ([3:6] for begin, [9:12] for end).
func addRegularizers(a, b []float64, working *TrajectoryFrame, previous *TrajectoryFrame, opts CTICPOptions) {
	if previous == nil {
		return
	}
	const dim = 12
	if beta := opts.BetaLocationConsistency; beta > 0 {
		diff := working.Begin.Translation.Sub(previous.End.Translation)
		for k := 0; k < 3; k++ {
			i := 3 + k
			a[i*dim+i] += beta
			b[i] -= beta * diff[k]
		}
	}
	if beta := opts.BetaConstantVelocity; beta > 0 {
		newRel := working.End.Translation.Sub(working.Begin.Translation)
		prevRel := previous.End.Translation.Sub(previous.Begin.Translation)
		diff := newRel.Sub(prevRel)
		for k := 0; k < 3; k++ {
			ib, ie := 3+k, 9+k
			a[ib*dim+ib] += beta
			a[ie*dim+ie] += beta
			// Off-diagonal coupling between the two translation blocks;
			// only the upper triangle is stored.
			a[ib*dim+ie] -= beta
			b[ib] += beta * diff[k]
			b[ie] -= beta * diff[k]
		}
	}
}

// solveNormalEquations solves the symmetric positive-definite system
// a·x = b via Cholesky, retrying once with a damped diagonal when the
// factorisation fails.
func solveNormalEquations(a, b []float64, dim int) ([]float64, error) {
	full := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			full[i*dim+j] = a[i*dim+j]
			full[j*dim+i] = a[i*dim+j]
		}
	}
	sym := mat.NewSymDense(dim, full)

	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		for i := 0; i < dim; i++ {
			full[i*dim+i] += normalEquationDamping
		}
		sym = mat.NewSymDense(dim, full)
		if !chol.Factorize(sym) {
			return nil, fmt.Errorf("singular normal equations: registration under-constrained")
		}
	}

	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(dim, b)); err != nil {
		return nil, fmt.Errorf("solve normal equations: %w", err)
	}
	out := make([]float64, dim)
	for i := 0; i < dim; i++ {
		out[i] = x.AtVec(i)
	}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite pose update")
		}
	}
	return out, nil
}

// applyUpdate left-multiplies the pose(s) by the solved perturbation and
// returns the rotation and translation update norms for the convergence
// check. The rigid solve applies one perturbation to both boundary poses so
// the acquisition window stays rigid.
func applyUpdate(working *TrajectoryFrame, dx []float64, ct bool) (rotNorm, transNorm float64) {
	if ct {
		dThetaB := Vec3{dx[0], dx[1], dx[2]}
		dTransB := Vec3{dx[3], dx[4], dx[5]}
		dThetaE := Vec3{dx[6], dx[7], dx[8]}
		dTransE := Vec3{dx[9], dx[10], dx[11]}
		working.Begin = perturb(working.Begin, dThetaB, dTransB)
		working.End = perturb(working.End, dThetaE, dTransE)
		rotNorm = math.Max(dThetaB.Norm(), dThetaE.Norm())
		transNorm = math.Max(dTransB.Norm(), dTransE.Norm())
		return rotNorm, transNorm
	}
	dTheta := Vec3{dx[0], dx[1], dx[2]}
	dTrans := Vec3{dx[3], dx[4], dx[5]}
	working.Begin = perturb(working.Begin, dTheta, dTrans)
	working.End = perturb(working.End, dTheta, dTrans)
	return dTheta.Norm(), dTrans.Norm()
}

// perturb applies the left-perturbation exp(δθ)·p + δt.
func perturb(p Pose, dTheta, dTrans Vec3) Pose {
	dq := QuaternionFromAxisAngle(dTheta)
	return Pose{
		Rotation:    dq.Mul(p.Rotation).Normalize(),
		Translation: dq.Rotate(p.Translation).Add(dTrans),
	}
}

// fitPlane estimates the local surface plane from a point neighborhood:
// normal from the smallest eigenvector of the covariance, weight from the
// squared planarity a2D = (σ2-σ3)/σ1 with σ the descending singular values.
// Degenerate neighborhoods (collinear or coincident points) report ok=false.
func fitPlane(neighbors []Vec3) (normal Vec3, weight float64, ok bool) {
	n := len(neighbors)
	if n < 3 {
		return Vec3{}, 0, false
	}
	var mean Vec3
	for _, p := range neighbors {
		mean = mean.Add(p)
	}
	mean = mean.Scale(1 / float64(n))

	var cov [6]float64 // xx, xy, xz, yy, yz, zz
	for _, p := range neighbors {
		d := p.Sub(mean)
		cov[0] += d[0] * d[0]
		cov[1] += d[0] * d[1]
		cov[2] += d[0] * d[2]
		cov[3] += d[1] * d[1]
		cov[4] += d[1] * d[2]
		cov[5] += d[2] * d[2]
	}
	sym := mat.NewSymDense(3, []float64{
		cov[0], cov[1], cov[2],
		cov[1], cov[3], cov[4],
		cov[2], cov[4], cov[5],
	})

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return Vec3{}, 0, false
	}
	vals := eig.Values(nil) // ascending
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	normal = Vec3{vecs.At(0, 0), vecs.At(1, 0), vecs.At(2, 0)}

	s3 := math.Sqrt(math.Max(vals[0], 0))
	s2 := math.Sqrt(math.Max(vals[1], 0))
	s1 := math.Sqrt(math.Max(vals[2], 0))
	if s1 < 1e-9 {
		return Vec3{}, 0, false
	}
	a2D := (s2 - s3) / s1
	return normal, a2D * a2D, true
}

// Package odom implements incremental LiDAR odometry with continuous-time
// registration.
//
// Responsibilities: maintaining a voxelized local map of previously observed
// points, estimating a begin/end pose pair for every incoming scan via
// continuous-time iterative closest point, assessing registration quality,
// and retrying with escalated parameters when a registration fails the
// assessment.
//
// The package is a sequential engine: one Odometry instance owns its map and
// trajectory, and RegisterFrame calls must be externally serialised.
// Persistence lives in storage/sqlite, never here.
package odom

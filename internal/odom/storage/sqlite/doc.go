// Package sqlite contains SQLite repository implementations for odometry
// domain types.
//
// All database read/write operations for sessions, trajectory frames, and
// local-map snapshots belong here rather than in the odom package. This
// keeps the registration engine free of SQL noise and makes it easier to
// swap storage backends for testing.
package sqlite

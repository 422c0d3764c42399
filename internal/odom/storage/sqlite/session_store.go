package sqlite

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/odometry.report/internal/odom"
)

// SessionRecord describes one persisted odometry run.
type SessionRecord struct {
	SessionID string          `json:"session_id"`
	CreatedAt time.Time       `json:"created_at"`
	Profile   string          `json:"profile"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// FrameRecord is the persisted form of a single frame registration result.
type FrameRecord struct {
	SessionID           string               `json:"session_id"`
	FrameIndex          int                  `json:"frame_index"`
	Timestamp           time.Time            `json:"timestamp"`
	Frame               odom.TrajectoryFrame `json:"frame"`
	SampleSize          int                  `json:"sample_size"`
	NumberKeypoints     int                  `json:"number_keypoints"`
	DistanceCorrection  float64              `json:"distance_correction"`
	RelativeDistance    float64              `json:"relative_distance"`
	RelativeOrientation float64              `json:"relative_orientation"`
	Success             bool                 `json:"success"`
	NumberOfAttempts    int                  `json:"number_of_attempts"`
	ErrorMessage        string               `json:"error_message,omitempty"`
}

// SnapshotInfo is a lightweight summary of a persisted map snapshot. It omits
// the compressed blob to keep listing responses compact.
type SnapshotInfo struct {
	SnapshotID  int64     `json:"snapshot_id"`
	SessionID   string    `json:"session_id"`
	FrameIndex  int       `json:"frame_index"`
	TakenAt     time.Time `json:"taken_at"`
	PointsCount int       `json:"points_count"`
	Reason      string    `json:"reason"`
}

// SessionStore provides persistence for odometry sessions, per-frame
// registration results and local-map snapshots.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db.DB}
}

// CreateSession inserts a new session row and returns its generated ID.
// The options snapshot is stored as JSON so a run can be replayed with the
// exact configuration that produced it.
func (s *SessionStore) CreateSession(profile string, options odom.OdometryOptions) (string, error) {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("marshaling session options: %w", err)
	}
	sessionID := uuid.NewString()
	query := `
		INSERT INTO odom_sessions (session_id, created_unix_nanos, profile, options_json)
		VALUES (?, ?, ?, ?)
	`
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(query, sessionID, time.Now().UnixNano(), profile, string(optionsJSON))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return sessionID, nil
}

// GetSession returns the session with the given ID, or nil when it does not exist.
func (s *SessionStore) GetSession(sessionID string) (*SessionRecord, error) {
	query := `
		SELECT session_id, created_unix_nanos, profile, options_json
		FROM odom_sessions
		WHERE session_id = ?
	`
	var rec SessionRecord
	var createdNanos int64
	var optionsStr string
	err := s.db.QueryRow(query, sessionID).Scan(&rec.SessionID, &createdNanos, &rec.Profile, &optionsStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", sessionID, err)
	}
	rec.CreatedAt = time.Unix(0, createdNanos)
	if optionsStr != "" {
		rec.Options = json.RawMessage(optionsStr)
	}
	return &rec, nil
}

// ListSessions returns all sessions ordered newest first.
func (s *SessionStore) ListSessions() ([]SessionRecord, error) {
	query := `
		SELECT session_id, created_unix_nanos, profile, options_json
		FROM odom_sessions
		ORDER BY created_unix_nanos DESC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var createdNanos int64
		var optionsStr string
		if err := rows.Scan(&rec.SessionID, &createdNanos, &rec.Profile, &optionsStr); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		rec.CreatedAt = time.Unix(0, createdNanos)
		if optionsStr != "" {
			rec.Options = json.RawMessage(optionsStr)
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// FrameRecordFromSummary converts a registration summary into its persisted form.
func FrameRecordFromSummary(sessionID string, frameIndex int, summary odom.RegistrationSummary) FrameRecord {
	return FrameRecord{
		SessionID:           sessionID,
		FrameIndex:          frameIndex,
		Timestamp:           time.Now(),
		Frame:               summary.Frame,
		SampleSize:          summary.SampleSize,
		NumberKeypoints:     summary.NumberKeypoints,
		DistanceCorrection:  summary.DistanceCorrection,
		RelativeDistance:    summary.RelativeDistance,
		RelativeOrientation: summary.RelativeOrientation,
		Success:             summary.Success,
		NumberOfAttempts:    summary.NumberOfAttempts,
		ErrorMessage:        summary.ErrorMessage,
	}
}

// InsertFrame persists a single frame registration result.
func (s *SessionStore) InsertFrame(rec FrameRecord) error {
	query := `
		INSERT INTO odom_frames (
			session_id, frame_index, ts_unix_nanos,
			begin_qw, begin_qx, begin_qy, begin_qz, begin_tx, begin_ty, begin_tz,
			end_qw, end_qx, end_qy, end_qz, end_tx, end_ty, end_tz,
			sample_size, number_keypoints, distance_correction,
			relative_distance, relative_orientation, success, number_of_attempts, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	b, e := rec.Frame.Begin, rec.Frame.End
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.SessionID,
			rec.FrameIndex,
			rec.Timestamp.UnixNano(),
			b.Rotation.W, b.Rotation.X, b.Rotation.Y, b.Rotation.Z,
			b.Translation[0], b.Translation[1], b.Translation[2],
			e.Rotation.W, e.Rotation.X, e.Rotation.Y, e.Rotation.Z,
			e.Translation[0], e.Translation[1], e.Translation[2],
			rec.SampleSize,
			rec.NumberKeypoints,
			rec.DistanceCorrection,
			rec.RelativeDistance,
			rec.RelativeOrientation,
			rec.Success,
			rec.NumberOfAttempts,
			nullStr(rec.ErrorMessage),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting frame %d for session %s: %w", rec.FrameIndex, rec.SessionID, err)
	}
	return nil
}

// GetFrames returns all frame records for a session ordered by frame index.
func (s *SessionStore) GetFrames(sessionID string) ([]FrameRecord, error) {
	query := `
		SELECT session_id, frame_index, ts_unix_nanos,
			begin_qw, begin_qx, begin_qy, begin_qz, begin_tx, begin_ty, begin_tz,
			end_qw, end_qx, end_qy, end_qz, end_tx, end_ty, end_tz,
			sample_size, number_keypoints, distance_correction,
			relative_distance, relative_orientation, success, number_of_attempts, error_message
		FROM odom_frames
		WHERE session_id = ?
		ORDER BY frame_index ASC
	`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying frames for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var records []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var tsNanos int64
		var errMsg sql.NullString
		b := &rec.Frame.Begin
		e := &rec.Frame.End
		err := rows.Scan(
			&rec.SessionID, &rec.FrameIndex, &tsNanos,
			&b.Rotation.W, &b.Rotation.X, &b.Rotation.Y, &b.Rotation.Z,
			&b.Translation[0], &b.Translation[1], &b.Translation[2],
			&e.Rotation.W, &e.Rotation.X, &e.Rotation.Y, &e.Rotation.Z,
			&e.Translation[0], &e.Translation[1], &e.Translation[2],
			&rec.SampleSize, &rec.NumberKeypoints, &rec.DistanceCorrection,
			&rec.RelativeDistance, &rec.RelativeOrientation, &rec.Success,
			&rec.NumberOfAttempts, &errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning frame row: %w", err)
		}
		rec.Timestamp = time.Unix(0, tsNanos)
		if errMsg.Valid {
			rec.ErrorMessage = errMsg.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetTrajectory returns the begin/end pose pairs of all successfully
// registered frames in a session, ordered by frame index.
func (s *SessionStore) GetTrajectory(sessionID string) ([]odom.TrajectoryFrame, error) {
	records, err := s.GetFrames(sessionID)
	if err != nil {
		return nil, err
	}
	trajectory := make([]odom.TrajectoryFrame, 0, len(records))
	for _, rec := range records {
		if !rec.Success {
			continue
		}
		trajectory = append(trajectory, rec.Frame)
	}
	return trajectory, nil
}

// LatestPose returns the end pose of the newest successful frame in a session.
// Returns false when the session has no successful frames.
func (s *SessionStore) LatestPose(sessionID string) (odom.Pose, bool, error) {
	query := `
		SELECT end_qw, end_qx, end_qy, end_qz, end_tx, end_ty, end_tz
		FROM odom_frames
		WHERE session_id = ? AND success = 1
		ORDER BY frame_index DESC
		LIMIT 1
	`
	var pose odom.Pose
	err := s.db.QueryRow(query, sessionID).Scan(
		&pose.Rotation.W, &pose.Rotation.X, &pose.Rotation.Y, &pose.Rotation.Z,
		&pose.Translation[0], &pose.Translation[1], &pose.Translation[2],
	)
	if err == sql.ErrNoRows {
		return odom.Pose{}, false, nil
	}
	if err != nil {
		return odom.Pose{}, false, fmt.Errorf("querying latest pose for session %s: %w", sessionID, err)
	}
	return pose, true, nil
}

// SaveMapSnapshot compresses and persists the local-map point cloud for a
// session at the given frame index. Returns the snapshot row ID.
func (s *SessionStore) SaveMapSnapshot(sessionID string, frameIndex int, reason string, points []odom.Vec3) (int64, error) {
	blob, err := serializePointcloud(points)
	if err != nil {
		return 0, fmt.Errorf("serializing map snapshot: %w", err)
	}
	query := `
		INSERT INTO odom_map_snapshots (session_id, frame_index, taken_unix_nanos, points_count, snapshot_reason, map_blob)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var snapshotID int64
	err = retryOnBusy(func() error {
		res, err := s.db.Exec(query, sessionID, frameIndex, time.Now().UnixNano(), len(points), reason, blob)
		if err != nil {
			return err
		}
		snapshotID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("inserting map snapshot for session %s: %w", sessionID, err)
	}
	return snapshotID, nil
}

// LoadMapSnapshot decompresses and returns the point cloud of a snapshot.
func (s *SessionStore) LoadMapSnapshot(snapshotID int64) ([]odom.Vec3, error) {
	query := `SELECT map_blob FROM odom_map_snapshots WHERE snapshot_id = ?`
	var blob []byte
	err := s.db.QueryRow(query, snapshotID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("map snapshot %d not found", snapshotID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying map snapshot %d: %w", snapshotID, err)
	}
	points, err := deserializePointcloud(blob)
	if err != nil {
		return nil, fmt.Errorf("deserializing map snapshot %d: %w", snapshotID, err)
	}
	return points, nil
}

// ListSnapshots returns snapshot summaries for a session, newest first.
func (s *SessionStore) ListSnapshots(sessionID string) ([]SnapshotInfo, error) {
	query := `
		SELECT snapshot_id, session_id, frame_index, taken_unix_nanos, points_count, snapshot_reason
		FROM odom_map_snapshots
		WHERE session_id = ?
		ORDER BY taken_unix_nanos DESC
	`
	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var takenNanos int64
		if err := rows.Scan(&info.SnapshotID, &info.SessionID, &info.FrameIndex, &takenNanos, &info.PointsCount, &info.Reason); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		info.TakenAt = time.Unix(0, takenNanos)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// serializePointcloud gob-encodes and gzip-compresses a point cloud for storage.
func serializePointcloud(points []odom.Vec3) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(points); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializePointcloud(blob []byte) ([]odom.Vec3, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var points []odom.Vec3
	if err := gob.NewDecoder(gz).Decode(&points); err != nil && err != io.EOF {
		return nil, err
	}
	return points, nil
}

// nullStr returns nil for empty strings, pointer to string otherwise.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

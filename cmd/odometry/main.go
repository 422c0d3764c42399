// Command odometry runs continuous-time LiDAR odometry over a directory of
// scan files and records the estimated trajectory in a SQLite database.
//
// Scans are CSV files with one point per line: x,y,z,alpha where alpha is
// the relative timestamp in [0,1] within the scan. Files are processed in
// lexical order, one file per scan.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/banshee-data/odometry.report/internal/config"
	"github.com/banshee-data/odometry.report/internal/odom"
	"github.com/banshee-data/odometry.report/internal/odom/storage/sqlite"
	"github.com/banshee-data/odometry.report/internal/units"
	"github.com/banshee-data/odometry.report/internal/version"
)

var (
	scanDir      = flag.String("scans", "", "Directory of CSV scan files (required)")
	dbPath       = flag.String("db", "odometry.db", "SQLite database path")
	profile      = flag.String("profile", "driving", "Parameter profile: driving or slow_outdoor")
	tuningPath   = flag.String("config", "", "Optional tuning config JSON overriding the profile")
	snapshotEach = flag.Int("snapshot-every", 0, "Persist a map snapshot every N frames (0 disables)")
	debugPrint   = flag.Bool("debug", false, "Log per-frame registration diagnostics")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("odometry %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *scanDir == "" {
		log.Fatal("-scans is required")
	}

	opts, err := resolveOptions(*profile, *tuningPath)
	if err != nil {
		log.Fatalf("resolve options: %v", err)
	}
	opts.DebugPrint = *debugPrint

	engine, err := odom.NewOdometry(opts)
	if err != nil {
		log.Fatalf("create odometry engine: %v", err)
	}

	db, err := sqlite.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	store := sqlite.NewSessionStore(db)
	sessionID, err := store.CreateSession(*profile, opts)
	if err != nil {
		log.Fatalf("create session: %v", err)
	}
	log.Printf("session %s started (profile=%s, db=%s)", sessionID, *profile, *dbPath)

	files, err := listScanFiles(*scanDir)
	if err != nil {
		log.Fatalf("list scans: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no .csv scan files in %s", *scanDir)
	}

	registered := 0
	for i, path := range files {
		scan, err := readScanCSV(path)
		if err != nil {
			log.Fatalf("read scan %s: %v", path, err)
		}

		summary, err := engine.RegisterFrame(scan)
		if err != nil {
			log.Fatalf("register scan %s: %v", path, err)
		}

		rec := sqlite.FrameRecordFromSummary(sessionID, i, *summary)
		if err := store.InsertFrame(rec); err != nil {
			log.Fatalf("persist frame %d: %v", i, err)
		}

		if !summary.Success {
			log.Printf("scan %s rejected after %d attempt(s): %s",
				filepath.Base(path), summary.NumberOfAttempts, summary.ErrorMessage)
			continue
		}
		registered++

		t := summary.Frame.End.Translation
		log.Printf("scan %s: pose=(%.2f, %.2f, %.2f) keypoints=%d rel_orient=%.2fdeg",
			filepath.Base(path), t[0], t[1], t[2], summary.NumberKeypoints,
			units.RadToDeg(summary.RelativeOrientation))

		if *snapshotEach > 0 && registered%*snapshotEach == 0 {
			if _, err := store.SaveMapSnapshot(sessionID, i, "interval", engine.GetLocalMap()); err != nil {
				log.Printf("map snapshot at frame %d failed: %v", i, err)
			}
		}
	}

	log.Printf("done: %d/%d scans registered, map holds %d points",
		registered, len(files), engine.MapSize())
}

// resolveOptions builds engine options from the named profile, then applies
// tuning overrides from an optional JSON config.
func resolveOptions(profile, tuningPath string) (odom.OdometryOptions, error) {
	var opts odom.OdometryOptions
	switch profile {
	case "driving":
		opts = odom.DefaultDrivingProfile()
	case "slow_outdoor":
		opts = odom.DefaultSlowOutdoorProfile()
	default:
		return opts, fmt.Errorf("unknown profile %q (want driving or slow_outdoor)", profile)
	}

	if tuningPath != "" {
		cfg, err := config.LoadTuningConfig(tuningPath)
		if err != nil {
			return opts, err
		}
		opts = odom.OptionsFromTuning(cfg)
	}
	return opts, nil
}

func listScanFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// readScanCSV parses one scan file: x,y,z,alpha per record. A missing alpha
// column defaults to 0 (rigid scan).
func readScanCSV(path string) ([]odom.Point3D, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	points := make([]odom.Point3D, 0, len(records))
	for lineNo, rec := range records {
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: want at least x,y,z, got %d fields", lineNo+1, len(rec))
		}
		var coords [4]float64
		for i := 0; i < 3; i++ {
			coords[i], err = strconv.ParseFloat(rec[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d field %d: %w", lineNo+1, i+1, err)
			}
		}
		if len(rec) > 3 {
			coords[3], err = strconv.ParseFloat(rec[3], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d alpha: %w", lineNo+1, err)
			}
		}
		points = append(points, odom.NewPoint(coords[0], coords[1], coords[2], coords[3]))
	}
	return points, nil
}

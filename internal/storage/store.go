package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/momentservo/internal/config"
	"github.com/san-kum/momentservo/internal/loop"
)

const (
	metadataFile = "metadata.json"
	traceFile    = "trace.csv"
)

var ErrRunNotFound = errors.New("storage: run not found")

var traceHeader = []string{
	"iteration", "elapsed_ms",
	"tx", "ty", "tz", "tux", "tuy", "tuz",
	"vx", "vy", "vz", "wx", "wy", "wz",
	"error2", "rank",
}

// Store keeps one directory per run under baseDir.
type Store struct {
	baseDir string
	now     func() time.Time
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID         string             `json:"id"`
	Scenario   string             `json:"scenario"`
	Timestamp  time.Time          `json:"timestamp"`
	Iterations int                `json:"iterations"`
	FinalError float64            `json:"final_error"`
	Elapsed    time.Duration      `json:"elapsed_ns"`
	Status     string             `json:"status"`
	Task       string             `json:"task"`
	Metrics    map[string]float64 `json:"metrics"`
	Config     *config.Config     `json:"config"`
}

// TracePoint is one row of trace.csv.
type TracePoint struct {
	Iteration    int
	Elapsed      time.Duration
	Pose         [6]float64
	Velocity     [6]float64
	ErrorSquared float64
	Rank         int
}

// Save writes the metadata and the per-tick trace of a run. runErr, when not
// nil, is recorded as the run status.
func (s *Store) Save(cfg *config.Config, result *loop.Result, runErr error) (string, error) {
	if result == nil {
		return "", errors.New("storage: nil result")
	}
	if err := s.Init(); err != nil {
		return "", err
	}

	ts := s.now()
	name := cfg.Name
	if name == "" {
		name = "run"
	}
	runID, runDir, err := s.makeRunDir(fmt.Sprintf("%s_%d", name, ts.Unix()))
	if err != nil {
		return "", err
	}

	status := "ok"
	if runErr != nil {
		status = runErr.Error()
	}
	meta := RunMetadata{
		ID:         runID,
		Scenario:   cfg.Name,
		Timestamp:  ts,
		Iterations: result.Iterations,
		FinalError: result.FinalError,
		Elapsed:    result.Elapsed,
		Status:     status,
		Task:       result.Task,
		Metrics:    result.Metrics,
		Config:     cfg,
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}

	if err := writeTrace(filepath.Join(runDir, traceFile), result.Samples); err != nil {
		return "", err
	}
	return runID, nil
}

// makeRunDir creates a fresh directory, suffixing the id when two runs share
// a second.
func (s *Store) makeRunDir(base string) (string, string, error) {
	id := base
	for n := 1; ; n++ {
		dir := filepath.Join(s.baseDir, id)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return id, dir, nil
		}
		if !os.IsExist(err) {
			return "", "", err
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTrace(path string, samples []loop.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(traceHeader); err != nil {
		return err
	}
	for _, smp := range samples {
		row := make([]string, 0, len(traceHeader))
		row = append(row,
			strconv.Itoa(smp.Iteration),
			strconv.FormatFloat(float64(smp.Elapsed)/float64(time.Millisecond), 'f', 3, 64))
		for _, v := range smp.Pose.Vector() {
			row = append(row, formatFloat(v))
		}
		for _, v := range smp.Velocity {
			row = append(row, formatFloat(v))
		}
		row = append(row, formatFloat(smp.ErrorSquared), strconv.Itoa(smp.Rank))
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// List returns the stored runs, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadTrace(runID string) ([]TracePoint, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, traceFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(traceHeader)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}
	if len(records) < 2 {
		return []TracePoint{}, nil
	}

	points := make([]TracePoint, 0, len(records)-1)
	for line, rec := range records[1:] {
		p, err := parseTracePoint(rec)
		if err != nil {
			return nil, fmt.Errorf("storage: %s line %d: %w", runID, line+2, err)
		}
		points = append(points, p)
	}
	return points, nil
}

func parseTracePoint(rec []string) (TracePoint, error) {
	var p TracePoint
	vals := make([]float64, len(rec))
	for i, field := range rec {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return p, fmt.Errorf("%s: %w", traceHeader[i], err)
		}
		vals[i] = v
	}
	p.Iteration = int(vals[0])
	p.Elapsed = time.Duration(vals[1] * float64(time.Millisecond))
	copy(p.Pose[:], vals[2:8])
	copy(p.Velocity[:], vals[8:14])
	p.ErrorSquared = vals[14]
	p.Rank = int(vals[15])
	return p, nil
}

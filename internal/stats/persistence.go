package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// statsVersion is bumped when the schema changes.
	statsVersion = 1

	statsFileName = "stats.json"
	appDirName    = "kiwiscan"
)

// Stats are lifetime scan counters, kept in
// ~/.local/state/kiwiscan/stats.json (respecting XDG_STATE_HOME).
type Stats struct {
	Version int `json:"version"`

	ScansStarted     int `json:"scansStarted"`
	ScansCompleted   int `json:"scansCompleted"`
	ScansCanceled    int `json:"scansCanceled"`
	CanceledByEngine int `json:"canceledByEngine"`
	ScenesFinalized  int `json:"scenesFinalized"`
	MeshesGenerated  int `json:"meshesGenerated"`
	Failures         int `json:"failures"`

	// FailuresPerCommand counts diagnostics by the operation that raised them.
	FailuresPerCommand map[string]int `json:"failuresPerCommand"`

	// Peaks
	MaxSucceededFrames int `json:"maxSucceededFrames"`
	MaxLostTracking    int `json:"maxLostTracking"`
	MaxPointCount      int `json:"maxPointCount"`
	MaxFaceCount       int `json:"maxFaceCount"`
	MaxVertexCount     int `json:"maxVertexCount"`

	LastScanAt  time.Time `json:"lastScanAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Store loads and saves Stats on disk.
type Store struct {
	dir string
}

// NewStore creates a Store in dir. An empty dir uses the XDG state path.
// The directory is created on the first Save.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultStatsDir()
	}
	return &Store{dir: dir}
}

// Path returns the full path to the stats file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, statsFileName)
}

// Load reads stats from disk. A missing file yields empty stats.
func (s *Store) Load() (*Stats, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return newStats(), nil
		}
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	var st Stats
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing stats: %w", err)
	}
	if st.FailuresPerCommand == nil {
		st.FailuresPerCommand = make(map[string]int)
	}
	return &st, nil
}

// Save writes stats through a temp file and a rename so a crash never
// leaves a truncated file behind.
func (s *Store) Save(st *Stats) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating stats dir: %w", err)
	}

	st.Version = statsVersion
	st.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".stats-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming stats file: %w", err)
	}
	committed = true
	return nil
}

func newStats() *Stats {
	return &Stats{
		Version:            statsVersion,
		FailuresPerCommand: make(map[string]int),
	}
}

func (st *Stats) clone() *Stats {
	cp := *st
	cp.FailuresPerCommand = make(map[string]int, len(st.FailuresPerCommand))
	for k, v := range st.FailuresPerCommand {
		cp.FailuresPerCommand[k] = v
	}
	return &cp
}

// defaultStatsDir returns ~/.local/state/kiwiscan, respecting XDG_STATE_HOME.
func defaultStatsDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}

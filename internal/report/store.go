package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"trajopt/internal/dispatch"
)

// Store persists batch reports under a base directory, one subdirectory
// per batch with a metadata.json and a runs.csv.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type BatchMetadata struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Seeds         int       `json:"seeds"`
	Converged     int       `json:"converged"`
	Pass          bool      `json:"pass"`
	BestSeed      int       `json:"best_seed"`
	BestObjective float64   `json:"best_objective"`
	Iterations    int       `json:"iterations"`
}

// Save writes one batch summary and returns its ID.
func (s *Store) Save(name string, sum dispatch.Summary) (string, error) {
	batchID := fmt.Sprintf("%s_%d", name, time.Now().Unix())
	batchDir := filepath.Join(s.baseDir, batchID)

	if err := os.MkdirAll(batchDir, 0755); err != nil {
		return "", err
	}

	meta := BatchMetadata{
		ID:        batchID,
		Timestamp: time.Now(),
		Seeds:     len(sum.Runs),
		Converged: sum.Converged,
		Pass:      sum.Pass,
	}
	if sum.Best != nil {
		meta.BestSeed = sum.Best.Seed
		meta.BestObjective = sum.Best.BestObjective
		meta.Iterations = sum.Best.Iterations
	}

	metaFile, err := os.Create(filepath.Join(batchDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(batchDir, "runs.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if err := w.Write([]string{"seed", "phase", "reason", "iterations", "objective", "wall_ms"}); err != nil {
		return "", err
	}
	for _, r := range sum.Runs {
		obj := ""
		if r.Feasible() {
			obj = strconv.FormatFloat(r.BestObjective, 'f', 9, 64)
		}
		row := []string{
			strconv.Itoa(r.Seed),
			r.Phase.String(),
			string(r.Reason),
			strconv.Itoa(r.Iterations),
			obj,
			strconv.FormatInt(r.WallTime.Milliseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return batchID, nil
}

func (s *Store) List() ([]BatchMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BatchMetadata{}, nil
		}
		return nil, err
	}

	batches := make([]BatchMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta BatchMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		batches = append(batches, meta)
	}
	return batches, nil
}

func (s *Store) Load(batchID string) (*BatchMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, batchID, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta BatchMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

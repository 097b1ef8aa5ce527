package nvd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultTopN is how many entries a collection run keeps.
const DefaultTopN = 100

// TopBySeverity stable-sorts entries from CRITICAL to UNKNOWN and keeps the
// first n. n <= 0 keeps everything. entries is reordered in place.
func TopBySeverity(entries []Entry, n int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Severity.Rank() < entries[j].Severity.Rank()
	})
	if n > 0 && len(entries) > n {
		return entries[:n]
	}
	return entries
}

// WriteDataset writes entries as indented JSON, replacing path atomically.
func WriteDataset(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("nvd: encode dataset: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("nvd: write dataset: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("nvd: write dataset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("nvd: write dataset: %w", err)
	}
	return nil
}

// ReadDataset loads a dataset written by WriteDataset.
func ReadDataset(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nvd: read dataset: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("nvd: decode dataset %s: %w", path, err)
	}
	return entries, nil
}

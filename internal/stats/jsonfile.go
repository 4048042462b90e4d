package stats

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// JSONFile stores counters as a single JSON object, rewritten in full on every save.
type JSONFile struct {
	Path string
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{Path: path}
}

func (f *JSONFile) LoadCounters() (Counters, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Counters{}, nil
	} else if err != nil {
		return nil, err
	}
	var counters Counters
	if err := json.Unmarshal(data, &counters); err != nil {
		return nil, err
	}
	return counters, nil
}

func (f *JSONFile) SaveCounters(counters Counters) error {
	data, err := json.MarshalIndent(counters, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

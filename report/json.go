package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/notargets/KernelBench/bench"
)

// WriteJSON writes res as an indented JSON document, creating parent
// directories as needed
func WriteJSON(path string, res *bench.Result) error {
	if res == nil {
		return fmt.Errorf("no result to write")
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadJSON loads a result written by WriteJSON
func ReadJSON(path string) (*bench.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res bench.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &res, nil
}

package feeders

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSONFeeder is a feeder that reads JSON files
type JSONFeeder struct {
	Path string
}

// NewJSONFeeder creates a new JSONFeeder that reads from the specified JSON file
func NewJSONFeeder(filePath string) JSONFeeder {
	return JSONFeeder{Path: filePath}
}

// Feed decodes the whole file into structure. Unknown keys are errors.
func (j JSONFeeder) Feed(structure any) error {
	f, err := os.Open(j.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if _, isMap := structure.(*map[string]any); !isMap {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(structure); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrJSONDecode, j.Path, err)
	}
	return nil
}

// FeedKey reads a JSON file and extracts a specific key
func (j JSONFeeder) FeedKey(key string, target any) error {
	var allData map[string]any
	if err := j.Feed(&allData); err != nil {
		return err
	}
	value, exists := allData[key]
	if !exists {
		return nil
	}
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err = json.Unmarshal(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}

package feeders

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// DotEnvFeeder reads KEY=value lines from a file and feeds fields tagged
// env the way AffixedEnvFeeder does. The variables are kept in memory and
// never exported to the process environment.
type DotEnvFeeder struct {
	Path   string
	Prefix string
}

// NewDotEnvFeeder creates a feeder for the file at filePath. Keys are
// expected to carry prefix, as in KISS_MAX_DEPTH.
func NewDotEnvFeeder(filePath, prefix string) DotEnvFeeder {
	return DotEnvFeeder{Path: filePath, Prefix: prefix}
}

// Feed parses the file and populates the provided structure
func (f DotEnvFeeder) Feed(structure any) error {
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	vars, err := f.parse()
	if err != nil {
		return err
	}
	lookup := func(key string) string { return vars[key] }
	return processStructFields(rv.Elem(), strings.ToUpper(f.Prefix), "", lookup)
}

func (f DotEnvFeeder) parse() (map[string]string, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	defer file.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			return nil, fmt.Errorf("%w at line %d: %s", ErrDotEnvInvalidLine, lineNum, line)
		}
		vars[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	return vars, nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

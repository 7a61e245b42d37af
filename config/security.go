package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits applied to configuration input.
const (
	maxLayerBytes = 10 << 20
	maxLayerDepth = 100
	maxEnvValue   = 10000
	maxPathLen    = 4096
)

type layerKind int

const (
	layerUnknown layerKind = iota
	layerJSON
	layerYAML
)

// kindOf classifies a layer by extension.
func kindOf(path string) layerKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return layerJSON
	case ".yaml", ".yml":
		return layerYAML
	default:
		return layerUnknown
	}
}

// checkLayerPath accepts absolute paths and relative paths that stay inside
// the working directory, with a JSON or YAML extension.
func checkLayerPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("config path is empty")
	case len(path) > maxPathLen:
		return fmt.Errorf("config path is %d bytes, limit %d", len(path), maxPathLen)
	case kindOf(path) == layerUnknown:
		return fmt.Errorf("%s: config layers must be .json, .yaml or .yml", path)
	}
	if filepath.IsAbs(path) {
		return nil
	}
	rel := filepath.Clean(path)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s: relative config path leaves the working directory", path)
	}
	return nil
}

// readLayerFile reads a regular file of at most maxLayerBytes.
func readLayerFile(path string) ([]byte, error) {
	if err := checkLayerPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	data, err := io.ReadAll(io.LimitReader(f, maxLayerBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxLayerBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxLayerBytes)
	}
	return data, nil
}

// writeLayerFile writes data with mode 0600.
func writeLayerFile(path string, data []byte) error {
	if err := checkLayerPath(path); err != nil {
		return err
	}
	if len(data) > maxLayerBytes {
		return fmt.Errorf("encoded config is %d bytes, limit %d", len(data), maxLayerBytes)
	}
	return os.WriteFile(path, data, 0o600)
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValue {
		return fmt.Errorf("%s is %d bytes, limit %d", key, len(value), maxEnvValue)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}

// checkDepth rejects decoded layers nested deeper than limit maps or lists.
func checkDepth(v any, limit int) error {
	if limit < 0 {
		return fmt.Errorf("config nesting exceeds %d levels", maxLayerDepth)
	}
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if err := checkDepth(child, limit-1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := checkDepth(child, limit-1); err != nil {
				return err
			}
		}
	}
	return nil
}

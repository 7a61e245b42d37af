// Package file serves input units from files on disk, one unit per file.
package file

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/c360/transcoder/errors"
	"github.com/c360/transcoder/message"
)

// Header keys set on every unit.
const (
	HeaderPath = "Source-Path"
	HeaderName = "Source-Name"
	HeaderSize = "Source-Size"
)

// Config holds configuration for a file source
type Config struct {
	// Paths lists files and directories. Directories contribute the files
	// matching Pattern.
	Paths []string `json:"paths" yaml:"paths"`
	// Pattern is a filepath.Match pattern applied to base names; empty matches all.
	Pattern   string `json:"pattern"   yaml:"pattern"`
	Recursive bool   `json:"recursive" yaml:"recursive"`
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	if len(c.Paths) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one path is required")
	}
	if c.Pattern != "" {
		if _, err := filepath.Match(c.Pattern, ""); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "check pattern")
		}
	}
	return nil
}

// Source yields one unit per file in lexical order within each configured path.
// It is not safe for concurrent use.
type Source struct {
	files []string
	pos   int
}

// NewSource resolves the configured paths into a file list.
func NewSource(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var files []string
	for _, p := range cfg.Paths {
		found, err := expand(p, cfg)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return &Source{files: files}, nil
}

// Files returns the resolved file list.
func (s *Source) Files() []string {
	return append([]string(nil), s.files...)
}

// Next opens the next file. The unit body is the open file.
func (s *Source) Next(ctx context.Context) (*message.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.files) {
		return nil, io.EOF
	}
	path := s.files[s.pos]
	s.pos++

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapIO(err, "FileSource", "Next", "open "+path)
	}
	header := message.Header{}
	header.Set(HeaderPath, path)
	header.Set(HeaderName, filepath.Base(path))
	if info, err := f.Stat(); err == nil {
		header.Set(HeaderSize, strconv.FormatInt(info.Size(), 10))
	}
	return &message.Unit{Header: header, Body: f}, nil
}

func expand(path string, cfg Config) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "FileSource", "NewSource", "stat "+path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && !cfg.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if cfg.Pattern != "" {
			if ok, _ := filepath.Match(cfg.Pattern, d.Name()); !ok {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, errors.WrapIO(err, "FileSource", "NewSource", "walk "+path)
	}
	sort.Strings(files)
	return files, nil
}

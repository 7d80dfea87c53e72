// Package parser reads grammar point files in the formats the content
// repositories use: JSON, YAML and XLSX spreadsheets.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/conorfennell/fushigi/internal/domain"
)

// Format identifies a grammar file encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	XLSX Format = "xlsx"
)

// ErrUnsupportedFormat is returned for files the parser does not understand.
var ErrUnsupportedFormat = errors.New("parser: unsupported format")

// grammarFile is the top-level wrapper used by the grammar JSON and YAML files.
type grammarFile struct {
	Grammar []domain.GrammarPoint `json:"grammar" yaml:"grammar"`
}

// FormatOf returns the format for a file name based on its extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return JSON, true
	case ".yaml", ".yml":
		return YAML, true
	case ".xlsx":
		return XLSX, true
	}
	return "", false
}

// ParseFile reads a file from the given path and extracts all grammar points.
func ParseFile(path string) ([]domain.GrammarPoint, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file, format)
}

// Parse reads grammar points encoded in format from r.
// Points without a usage are dropped.
func Parse(r io.Reader, format Format) ([]domain.GrammarPoint, error) {
	var (
		points []domain.GrammarPoint
		err    error
	)
	switch format {
	case JSON:
		points, err = parseJSON(r)
	case YAML:
		points, err = parseYAML(r)
	case XLSX:
		points, err = parseXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return clean(points), nil
}

func parseJSON(r io.Reader) ([]domain.GrammarPoint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	// Both the {"grammar": [...]} wrapper and a bare array are accepted.
	if data[0] == '[' {
		var points []domain.GrammarPoint
		if err := json.Unmarshal(data, &points); err != nil {
			return nil, fmt.Errorf("decoding grammar array: %w", err)
		}
		return points, nil
	}
	var f grammarFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding grammar file: %w", err)
	}
	return f.Grammar, nil
}

func parseYAML(r io.Reader) ([]domain.GrammarPoint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decoding grammar yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	if node.Content[0].Kind == yaml.SequenceNode {
		var points []domain.GrammarPoint
		if err := node.Content[0].Decode(&points); err != nil {
			return nil, fmt.Errorf("decoding grammar yaml: %w", err)
		}
		return points, nil
	}
	var f grammarFile
	if err := node.Content[0].Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding grammar yaml: %w", err)
	}
	return f.Grammar, nil
}

func clean(points []domain.GrammarPoint) []domain.GrammarPoint {
	out := points[:0]
	for _, p := range points {
		p.Usage = strings.TrimSpace(p.Usage)
		if p.Usage == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

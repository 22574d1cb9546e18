// Package params loads the normalization statistics a face alignment model was
// trained with. The statistics are read once at startup and handed to
// pose.NewEstimator; they are never modified afterwards.
package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/headpose/internal/log"
	"github.com/teslashibe/headpose/pkg/pose"
)

// Dims3DDFA is the parameter count of the 3DDFA models: 12 camera, 40 shape and 10 expression.
const Dims3DDFA = 62

// ErrFormat is returned for unreadable or incomplete statistics files.
var ErrFormat = errors.New("params: invalid statistics file")

// Format is a statistics file encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("%w: unsupported extension %q", ErrFormat, filepath.Ext(path))
}

// File is the on-disk layout. The param_mean/param_std keys match the names
// the statistics are exported under by the 3DDFA training code.
type File struct {
	Mean      []float64 `json:"mean,omitempty" yaml:"mean,omitempty"`
	Std       []float64 `json:"std,omitempty" yaml:"std,omitempty"`
	ParamMean []float64 `json:"param_mean,omitempty" yaml:"param_mean,omitempty"`
	ParamStd  []float64 `json:"param_std,omitempty" yaml:"param_std,omitempty"`
}

func (f File) vectors() (mean, std []float64) {
	mean, std = f.Mean, f.Std
	if len(mean) == 0 {
		mean = f.ParamMean
	}
	if len(std) == 0 {
		std = f.ParamStd
	}
	return mean, std
}

// Decode reads statistics from r.
func Decode(r io.Reader, format Format) (*pose.Stats, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics: %w", err)
	}

	var f File
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&f)
	case FormatYAML:
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("%w: unknown format %v", ErrFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	mean, std := f.vectors()
	if len(mean) == 0 || len(std) == 0 {
		return nil, fmt.Errorf("%w: mean and std are required", ErrFormat)
	}
	stats, err := pose.NewStats(mean, std)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return stats, nil
}

// Load reads a JSON or YAML statistics file.
func Load(path string) (*pose.Stats, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open statistics file: %w", err)
	}
	defer fh.Close()

	stats, err := Decode(fh, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Info("loaded normalization statistics", "path", path, "dims", stats.Len(), "format", format)
	return stats, nil
}

// Identity returns zero-mean, unit-std statistics of n dimensions, for
// vectors that are already denormalized.
func Identity(n int) (*pose.Stats, error) {
	std := make([]float64, n)
	for i := range std {
		std[i] = 1
	}
	return pose.NewStats(make([]float64, n), std)
}

// Encode writes stats in the given format. It is the inverse of Decode.
func Encode(w io.Writer, stats *pose.Stats, format Format) error {
	f := File{Mean: stats.Mean(), Std: stats.Std()}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(f)
	}
	return fmt.Errorf("%w: unknown format %v", ErrFormat, format)
}

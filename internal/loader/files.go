package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"

	"github.com/miradorstack/mirador-ephys/internal/ephys"
	"github.com/miradorstack/mirador-ephys/internal/models"
	"github.com/miradorstack/mirador-ephys/internal/utils"
)

// FileSource reads one JSON-encoded CellRecording per file matching a glob.
// A recording without a name takes the file's base name.
type FileSource struct {
	glob    string
	maxSize datasize.ByteSize
	logger  *slog.Logger
}

// NewFileSource creates a FileSource. maxSize of zero disables the size cap.
func NewFileSource(glob string, maxSize datasize.ByteSize, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{glob: glob, maxSize: maxSize, logger: logger}
}

// List returns the names of every cell matched by the glob.
func (s *FileSource) List(ctx context.Context) ([]string, error) {
	cells, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return cellNames(cells), nil
}

// Load reads the named cells.
func (s *FileSource) Load(ctx context.Context, names []string) ([]models.CellRecording, error) {
	cells, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return selectCells(cells, names)
}

func (s *FileSource) readAll(ctx context.Context) ([]models.CellRecording, error) {
	paths, err := filepath.Glob(s.glob)
	if err != nil {
		return nil, fmt.Errorf("data glob %q: %w", s.glob, err)
	}
	cells := make([]models.CellRecording, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cell, err := s.readFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[cell.Metadata.Name]; dup {
			return nil, utils.Errorf("loader.FileSource", ephys.ErrMalformedInput, "cell %q in both %s and %s", cell.Metadata.Name, prev, path)
		}
		seen[cell.Metadata.Name] = path
		cells = append(cells, cell)
	}
	s.logger.Debug("recordings read", slog.String("glob", s.glob), slog.Int("cells", len(cells)))
	return cells, nil
}

func (s *FileSource) readFile(path string) (models.CellRecording, error) {
	const op = "loader.FileSource.readFile"
	f, err := os.Open(path)
	if err != nil {
		return models.CellRecording{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.CellRecording{}, fmt.Errorf("stat recording: %w", err)
	}
	if s.maxSize > 0 && uint64(info.Size()) > s.maxSize.Bytes() {
		return models.CellRecording{}, utils.Errorf(op, ephys.ErrMalformedInput, "%s is %s, limit %s",
			path, datasize.ByteSize(info.Size()).HumanReadable(), s.maxSize.HumanReadable())
	}

	cell, err := decodeCell(f)
	if err != nil {
		return models.CellRecording{}, utils.Errorf(op, ephys.ErrMalformedInput, "%s: %v", path, err)
	}
	if cell.Metadata.Name == "" {
		cell.Metadata.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return cell, nil
}

func decodeCell(r io.Reader) (models.CellRecording, error) {
	var cell models.CellRecording
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cell); err != nil {
		return models.CellRecording{}, err
	}
	for i, sw := range cell.Sweeps {
		if len(sw.Time) != len(sw.Data) || len(sw.Time) != len(sw.Commands) {
			return models.CellRecording{}, fmt.Errorf("sweep %d: time, data and commands differ in length", i)
		}
	}
	return cell, nil
}

package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mehmetymw/typedupe/internal/stream"
)

// FileStore keeps one JSON blob per stream in a directory.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	logger.Debug("Creating file state store", zap.String("dir", dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (f *FileStore) path(id stream.ID) string {
	return filepath.Join(f.dir, id.RawName+".json")
}

func (f *FileStore) Load(_ context.Context, id stream.ID) (DestinationState, error) {
	p := f.path(id)
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Debug("No destination state on disk", zap.String("path", p))
		return Default(), nil
	}
	if err != nil {
		return DestinationState{}, err
	}
	return decodeOrReset(b, id, f.logger), nil
}

func (f *FileStore) Save(_ context.Context, id stream.ID, st DestinationState) error {
	p := f.path(id)
	f.logger.Debug("Saving destination state to file",
		zap.String("path", p),
		zap.Bool("needs_soft_reset", st.NeedsSoftReset))
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, Encode(st), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// decodeOrReset treats an unreadable blob as a request for a soft reset,
// which rebuilds the final table from the raw table and is always safe.
func decodeOrReset(b []byte, id stream.ID, logger *zap.Logger) DestinationState {
	st, err := Decode(b)
	if err != nil {
		logger.Warn("Unreadable destination state, forcing soft reset",
			zap.String("stream", id.String()),
			zap.Error(err))
		return DestinationState{NeedsSoftReset: true, SchemaVersion: CurrentSchemaVersion}
	}
	return st
}

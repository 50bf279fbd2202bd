package db

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

//FileStore keeps the whole binding table as a JSON array in a single file
type FileStore struct {
	path string
}

//NewFileStore returns a store backed by the JSON file at path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

//LoadAll reads every binding from the file. A missing file is treated as an empty table.
func (f *FileStore) LoadAll(ctx context.Context) ([]guildmodels.RoleBinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Infof("Binding file %v does not exist yet, starting with no bindings", f.path)
		return nil, nil
	} else if err != nil {
		return nil, unavailable("failed to read %v: %v", f.path, err)
	}
	var bindings []guildmodels.RoleBinding
	if err := json.Unmarshal(data, &bindings); err != nil {
		return nil, unavailable("failed to parse %v: %v", f.path, err)
	}
	return normalizeAll(bindings), nil
}

//SaveAll overwrites the file with the given snapshot. The write goes through a temporary file so a crash never
//leaves a truncated document behind.
func (f *FileStore) SaveAll(ctx context.Context, bindings []guildmodels.RoleBinding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([]guildmodels.RoleBinding, 0, len(bindings))
	for _, b := range bindings {
		b.ID = b.Key().String()
		out = append(out, b)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return unavailable("failed to encode bindings: %v", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return unavailable("failed to create %v: %v", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return unavailable("failed to create temp file in %v: %v", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return unavailable("failed to write %v: %v", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return unavailable("failed to close %v: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return unavailable("failed to replace %v: %v", f.path, err)
	}
	return nil
}

//Close is a no-op for file stores
func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) String() string {
	return "file " + f.path
}

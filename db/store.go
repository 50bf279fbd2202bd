package db

import (
	"context"
	"fmt"

	"github.com/callummance/nia-roles/config"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

//BindingStore persists the full set of role bindings. SaveAll overwrites the previous snapshot entirely, so only
//one writer may use a store at a time.
type BindingStore interface {
	LoadAll(ctx context.Context) ([]guildmodels.RoleBinding, error)
	SaveAll(ctx context.Context, bindings []guildmodels.RoleBinding) error
	Close() error
}

//Open constructs the backend selected in cfg
func Open(ctx context.Context, cfg config.StorageConfig) (BindingStore, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return NewFileStore(cfg.Path), nil
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case config.BackendRethinkDB:
		return Init(cfg.DBAddr, cfg.DBName)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", guildmodels.ErrStorageUnavailable, fmt.Sprintf(format, args...))
}

//normalizeAll upgrades every loaded record and drops the ones that still do not form a usable binding
func normalizeAll(bindings []guildmodels.RoleBinding) []guildmodels.RoleBinding {
	res := make([]guildmodels.RoleBinding, 0, len(bindings))
	for _, b := range bindings {
		b.Normalize()
		if err := b.Validate(); err != nil {
			logrus.Warnf("Skipping stored role binding %v: %v", b.ID, err)
			continue
		}
		res = append(res, b)
	}
	return res
}

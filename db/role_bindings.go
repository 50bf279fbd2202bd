package db

import (
	"context"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
	rethink "gopkg.in/gorethink/gorethink.v3"
)

const roleBindingsTable string = "role_bindings"

//LoadAll returns every role binding document in the table
func (db *Connection) LoadAll(ctx context.Context) ([]guildmodels.RoleBinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := rethink.Table(roleBindingsTable).Run(db.exec)
	if err != nil {
		logrus.Warnf("Encountered error reading role bindings from database: %v.", err)
		return nil, unavailable("failed to read role bindings: %v", err)
	}
	defer res.Close()
	var bindings []guildmodels.RoleBinding
	if res.IsNil() {
		return nil, nil
	}
	err = res.All(&bindings)
	if err != nil {
		logrus.Warnf("Encountered error decoding role bindings from database: %v.", err)
		return nil, unavailable("failed to decode role bindings: %v", err)
	}
	return normalizeAll(bindings), nil
}

//SaveAll replaces the contents of the role bindings table with the given snapshot. Documents are upserted by
//composite id, then any document not part of the snapshot is deleted.
func (db *Connection) SaveAll(ctx context.Context, bindings []guildmodels.RoleBinding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	docs := make([]interface{}, 0, len(bindings))
	ids := make([]interface{}, 0, len(bindings))
	for _, b := range bindings {
		b.ID = b.Key().String()
		docs = append(docs, b)
		ids = append(ids, b.ID)
	}
	if len(docs) > 0 {
		resp, err := rethink.Table(roleBindingsTable).Insert(docs, rethink.InsertOpts{
			Conflict: "replace",
		}).RunWrite(db.exec)
		if err != nil {
			logrus.Warnf("Encountered error writing %d role bindings to database: %v.", len(docs), err)
			return unavailable("failed to write role bindings: %v", err)
		} else if resp.Errors > 0 {
			return unavailable("failed to write role bindings: %v", resp.FirstError)
		}
	}
	resp, err := rethink.Table(roleBindingsTable).Filter(func(row rethink.Term) rethink.Term {
		return rethink.Expr(ids).Contains(row.Field("id")).Not()
	}).Delete().RunWrite(db.exec)
	if err != nil {
		logrus.Warnf("Encountered error pruning stale role bindings from database: %v.", err)
		return unavailable("failed to prune role bindings: %v", err)
	} else if resp.Errors > 0 {
		return unavailable("failed to prune role bindings: %v", resp.FirstError)
	}
	logrus.Debugf("Saved %d role bindings to %v, pruned %d", len(docs), db, resp.Deleted)
	return nil
}

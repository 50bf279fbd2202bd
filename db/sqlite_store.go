package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS role_bindings (
	id TEXT PRIMARY KEY,
	guild_id TEXT NOT NULL,
	doc TEXT NOT NULL
)`

//SQLiteStore keeps one JSON document per binding in an embedded sqlite database
type SQLiteStore struct {
	db   *sql.DB
	path string
}

//OpenSQLite opens (creating if needed) the sqlite database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("failed to open sqlite database %v: %v", path, err)
	}
	//sqlite only supports a single writer
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		logrus.Warnf("Failed to enable WAL mode on %v: %v", path, err)
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, unavailable("failed to create role_bindings table in %v: %v", path, err)
	}
	return &SQLiteStore{db: conn, path: path}, nil
}

//LoadAll returns every stored binding
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]guildmodels.RoleBinding, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT doc FROM role_bindings ORDER BY id")
	if err != nil {
		return nil, unavailable("failed to query role bindings: %v", err)
	}
	defer rows.Close()
	var bindings []guildmodels.RoleBinding
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable("failed to scan role binding: %v", err)
		}
		var b guildmodels.RoleBinding
		if err := json.Unmarshal([]byte(doc), &b); err != nil {
			logrus.Warnf("Skipping undecodable role binding document %q: %v", doc, err)
			continue
		}
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("failed to iterate role bindings: %v", err)
	}
	return normalizeAll(bindings), nil
}

//SaveAll replaces the table contents with the snapshot inside one transaction
func (s *SQLiteStore) SaveAll(ctx context.Context, bindings []guildmodels.RoleBinding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM role_bindings"); err != nil {
		return unavailable("failed to clear role bindings: %v", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO role_bindings (id, guild_id, doc) VALUES (?, ?, ?)")
	if err != nil {
		return unavailable("failed to prepare insert: %v", err)
	}
	defer stmt.Close()
	for _, b := range bindings {
		b.ID = b.Key().String()
		doc, err := json.Marshal(b)
		if err != nil {
			return unavailable("failed to encode binding %v: %v", b.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, b.ID, b.GuildID, string(doc)); err != nil {
			return unavailable("failed to insert binding %v: %v", b.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("failed to commit role bindings: %v", err)
	}
	return nil
}

//Close closes the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) String() string {
	return "sqlite " + s.path
}

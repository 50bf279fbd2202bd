package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/callummance/nia-roles/config"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rethink "gopkg.in/gorethink/gorethink.v3"
)

func sampleBindings(t *testing.T) []guildmodels.RoleBinding {
	t.Helper()
	a, err := guildmodels.NewRoleBinding("g1", "c1", "m1", "✅", []string{"r1"}, guildmodels.BindingNormal, 1, guildmodels.Requirements{})
	require.NoError(t, err)
	a.AddWinner("u1")
	b, err := guildmodels.NewRoleBinding("g1", "c1", "m1", "987654321", []string{"r2", "r3"}, guildmodels.BindingToggle, 0, guildmodels.Requirements{Boost: true, VerifiedDeveloper: true})
	require.NoError(t, err)
	c, err := guildmodels.NewRoleBinding("g2", "c9", "m7", "🔴", []string{"r9"}, guildmodels.BindingReversed, 0, guildmodels.Requirements{})
	require.NoError(t, err)
	c.Disabled = true
	return []guildmodels.RoleBinding{*a, *b, *c}
}

func byID(bindings []guildmodels.RoleBinding) map[string]guildmodels.RoleBinding {
	res := make(map[string]guildmodels.RoleBinding, len(bindings))
	for _, b := range bindings {
		res[b.ID] = b
	}
	return res
}

func assertRoundTrip(t *testing.T, store BindingStore) {
	t.Helper()
	ctx := context.Background()
	want := sampleBindings(t)

	require.NoError(t, store.SaveAll(ctx, want))
	got, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, byID(want), byID(got))

	// saveAll(loadAll()) is stable
	require.NoError(t, store.SaveAll(ctx, got))
	again, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, byID(got), byID(again))

	// full snapshot semantics: dropped bindings disappear
	require.NoError(t, store.SaveAll(ctx, want[:1]))
	got, err = store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1:✅", got[0].ID)
}

func TestFileStore_RoundTrip(t *testing.T) {
	assertRoundTrip(t, NewFileStore(filepath.Join(t.TempDir(), "nested", "bindings.json")))
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "bindings.db"))
	require.NoError(t, err)
	defer store.Close()
	assertRoundTrip(t, store)
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	got, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_CorruptFileIsStorageUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).LoadAll(context.Background())
	assert.True(t, errors.Is(err, guildmodels.ErrStorageUnavailable), "got %v", err)
}

func TestFileStore_NormalizesLegacyRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.json")
	legacy := `[{"guild_id":"g","channel_id":"c","message_id":"m","emoji":"👍","role":"r1","toggle":true,"max":-4}]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	got, err := NewFileStore(path).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m:👍", got[0].ID)
	assert.Equal(t, []string{"r1"}, got[0].RoleIDs)
	assert.Equal(t, guildmodels.BindingToggle, got[0].Type)
	assert.Equal(t, 0, got[0].MaxGrants)
}

func TestFileStore_SkipsInvalidRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.json")
	records := `[
		{"guild_id":"g","channel_id":"c","message_id":"m1","emoji":"✅","roles":["r1"],"type":"BOGUS"},
		{"guild_id":"g","channel_id":"c","message_id":"m2","emoji":"✅","roles":[],"type":"NORMAL"},
		{"guild_id":"g","channel_id":"c","message_id":"m3","emoji":"✅","roles":["r1"],"type":"just_win"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(records), 0o644))

	got, err := NewFileStore(path).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m3:✅", got[0].ID)
	assert.Equal(t, guildmodels.BindingJustWin, got[0].Type)
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, config.StorageConfig{Backend: config.BackendFile, Path: filepath.Join(dir, "b.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, config.StorageConfig{Backend: config.BackendSQLite, Path: filepath.Join(dir, "b.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.StorageConfig{Backend: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestConnection_LoadAllFromMock(t *testing.T) {
	mock := rethink.NewMock()
	mock.On(rethink.Table(roleBindingsTable)).Return([]interface{}{
		map[string]interface{}{
			"id":         "m1:✅",
			"guild_id":   "g1",
			"channel_id": "c1",
			"message_id": "m1",
			"emoji":      "✅",
			"roles":      []interface{}{"r1"},
			"winners":    []interface{}{"u2", "u1"},
			"max":        2,
			"type":       "NORMAL",
		},
		map[string]interface{}{
			"guild_id":   "g1",
			"channel_id": "c1",
			"message_id": "m2",
			"emoji":      "🔵",
			"role":       "r5",
			"toggle":     true,
		},
	}, nil)

	got, err := NewConnectionWithExecutor(mock).LoadAll(context.Background())
	require.NoError(t, err)
	mock.AssertExpectations(t)

	loaded := byID(got)
	require.Len(t, loaded, 2)
	assert.Equal(t, []string{"u1", "u2"}, loaded["m1:✅"].Winners)
	assert.Equal(t, 2, loaded["m1:✅"].MaxGrants)
	assert.Equal(t, []string{"r5"}, loaded["m2:🔵"].RoleIDs)
	assert.Equal(t, guildmodels.BindingToggle, loaded["m2:🔵"].Type)
}

func TestConnection_LoadAllErrorIsStorageUnavailable(t *testing.T) {
	mock := rethink.NewMock()
	mock.On(rethink.Table(roleBindingsTable)).Return(nil, errors.New("connection refused"))

	_, err := NewConnectionWithExecutor(mock).LoadAll(context.Background())
	assert.True(t, errors.Is(err, guildmodels.ErrStorageUnavailable), "got %v", err)
}

func TestConnection_RoundTripLive(t *testing.T) {
	addr := os.Getenv("NIA_TEST_DB_ADDR")
	if addr == "" {
		t.Skip("NIA_TEST_DB_ADDR not set, skipping rethinkdb round trip")
	}
	conn, err := Init(addr, "nia_test")
	require.NoError(t, err)
	defer conn.Close()
	assertRoundTrip(t, conn)
}

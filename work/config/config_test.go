package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadFromDirRequiresRewriteSecret(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yml", "base_url: http://localhost:8080\n")

	_, err := loadFromDir(dir, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rewrite_secret")
}

func TestLoadFromDirDefaultsAndMerges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yml", "rewrite_secret: \"0123456789abcdef0123456789abcdef\"\n")
	writeFile(t, dir, "source.yml", "sources:\n  - name: primary\n    url: http://example.com/playlist.m3u\n")
	writeFile(t, dir, "mapping.yml", "targets:\n  - name: main\n    sources: [primary]\n")
	writeFile(t, dir, "api-proxy.yml", "users:\n  - username: alice\n    password: secret\n    target: main\n")

	cfg, err := loadFromDir(dir, nil)
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8080", cfg.Global.BaseURL)
	require.Equal(t, int64(12), cfg.Global.SharedBurstBufferMB)

	require.Len(t, cfg.Sources, 1)
	require.Equal(t, "primary", cfg.Sources[0].Name)
	require.Equal(t, 5, cfg.Sources[0].MaxConnections)
	require.Equal(t, 1, cfg.Sources[0].Order)

	require.Len(t, cfg.Mapping.Targets, 1)
	require.Equal(t, "frm", cfg.Mapping.Targets[0].ProcessingOrder)
	require.True(t, *cfg.Mapping.Targets[0].Output.SkipLiveDirectSource)

	require.Len(t, cfg.APIProxy.Users, 1)
	require.Equal(t, "redirect", cfg.APIProxy.Users[0].ProxyMode)
	require.Equal(t, "active", cfg.APIProxy.Users[0].Status)
}

func TestLoadMappingDirIsLexicographic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "m_10.yml", "filters:\n  - name: a\n    expr: 'Type = live'\n")
	writeFile(t, dir, "m_2.yml", "filters:\n  - name: b\n    expr: 'Type = vod'\n")

	mf, err := loadMappingDir(dir)
	require.NoError(t, err)
	require.Len(t, mf.Filters, 2)
	require.Equal(t, "a", mf.Filters[0].Name) // m_10.yml sorts before m_2.yml lexicographically
	require.Equal(t, "b", mf.Filters[1].Name)
}

func TestImportUserCSVDefaultsMaxConnectionsToOne(t *testing.T) {
	rows := [][]string{
		{"parent", "pw1"},
		{"alias1", "pw2"},
	}
	users := ImportUserCSV(rows, "main")
	require.Len(t, users, 2)
	require.Equal(t, "main", users[0].Username) // first alias renames to the parent input's name
	require.Equal(t, 1, users[0].MaxConnections)
	require.Equal(t, 1, users[1].MaxConnections)
}

func TestGetSourcesByOrder(t *testing.T) {
	cfg := &Config{Sources: []Input{
		{Name: "b", Order: 2},
		{Name: "a", Order: 1},
	}}
	ordered := cfg.GetSourcesByOrder()
	require.Equal(t, "a", ordered[0].Name)
	require.Equal(t, "b", ordered[1].Name)
}

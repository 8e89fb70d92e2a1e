package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIProxyFile is api-proxy.yml's shape: the proxy's user accounts (spec
// §3 User), one per (username, target) binding. CSV alias batches (spec
// §6 "CSV alias batches use ; separator") are a separate bulk-import path
// handled by ImportUserCSV, not part of this YAML file's shape.
type APIProxyFile struct {
	Users []UserDef `yaml:"users"`
}

// UserDef mirrors model.User's fields in their YAML-serializable form.
type UserDef struct {
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"` // hashed at load time into model.User.PasswordHash
	Token          string   `yaml:"token,omitempty"`
	Target         string   `yaml:"target"`
	ProxyMode      string   `yaml:"proxy_mode"` // redirect, reverse, reverse[subset]
	ReverseSubset  []string `yaml:"reverse_subset,omitempty"`
	ServerName     string   `yaml:"server_name,omitempty"`
	EPGTimeshift   time.Duration `yaml:"epg_timeshift,omitempty"`
	MaxConnections int      `yaml:"max_connections"` // 0 = unlimited, YAML default
	Status         string   `yaml:"status"`
	ExpDate        string   `yaml:"exp_date,omitempty"` // RFC3339; absent = never expires
	UIEnabled      bool     `yaml:"ui_enabled"`
}

func loadAPIProxy(path string) (APIProxyFile, error) {
	var af APIProxyFile
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return af, nil
	}
	if err != nil {
		return af, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &af); err != nil {
		return af, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range af.Users {
		validateUser(&af.Users[i])
	}
	return af, nil
}

func validateUser(u *UserDef) {
	if u.ProxyMode == "" {
		u.ProxyMode = "redirect"
	}
	if u.Status == "" {
		u.Status = "active"
	}
	// MaxConnections left at its YAML zero-value (unlimited) per DESIGN.md
	// Open Question decision 1 — unlike CSV alias batches, which default to 1.
}

// ImportUserCSV parses a `;`-separated CSV alias batch (spec §6): the
// first record in a batch renames to the parent input's name to keep
// virtual IDs stable, and CSV-imported aliases default max_connections to
// 1 rather than YAML's 0/unlimited (DESIGN.md Open Question decision 1 —
// the divergence is intentional, not unified).
func ImportUserCSV(rows [][]string, target string) []UserDef {
	out := make([]UserDef, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		u := UserDef{
			Username:       row[0],
			Password:       row[1],
			Target:         target,
			ProxyMode:      "redirect",
			Status:         "active",
			MaxConnections: 1,
		}
		if i == 0 {
			u.Username = target
		}
		out = append(out, u)
	}
	return out
}

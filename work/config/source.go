package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Input is one provider entry in source.yml — generalized from the
// teacher's SourceConfig (work/config/config.go) with the input-level
// knobs spec §4.5/§4.7/§4.9 add: processing order, share_live_streams,
// and the staged-source swap.
type Input struct {
	Name                   string        `yaml:"name"`
	URL                    string        `yaml:"url"`
	Type                   string        `yaml:"type"` // m3u, xtream, hdhomerun
	Order                  int           `yaml:"order"`
	MaxConnections         int           `yaml:"max_connections"`
	MaxStreamTimeout       time.Duration `yaml:"max_stream_timeout"`
	RetryDelay             time.Duration `yaml:"retry_delay"`
	MaxRetries             int           `yaml:"max_retries"`
	MaxFailuresBeforeBlock int           `yaml:"max_failures_before_block"`
	MinDataSize            int64         `yaml:"min_data_size"`
	UserAgent              string        `yaml:"user_agent"`
	ReqOrigin              string        `yaml:"req_origin"`
	ReqReferrer            string        `yaml:"req_referrer"`
	DropHeaders            []string      `yaml:"drop_headers"` // e.g. "Referer", "X-*", "CF-*" (spec §4.7 header policy)
	ProxyURL               string        `yaml:"proxy_url"`
	Username               string        `yaml:"username"`
	Password               string        `yaml:"password"`
	ShareLiveStreams       bool          `yaml:"share_live_streams"`
	Staged                 bool          `yaml:"staged"` // spec §4.5: staged source swaps playlist contents only; stream/info requests still route to the non-staged provider
	LiveIncludeRegex       string        `yaml:"live_include_regex,omitempty"`
	LiveExcludeRegex       string        `yaml:"live_exclude_regex,omitempty"`
	SeriesIncludeRegex     string        `yaml:"series_include_regex,omitempty"`
	SeriesExcludeRegex     string        `yaml:"series_exclude_regex,omitempty"`
	VODIncludeRegex        string        `yaml:"vod_include_regex,omitempty"`
	VODExcludeRegex        string        `yaml:"vod_exclude_regex,omitempty"`
}

// sourceFile is source.yml's on-disk shape: a bare list under `sources`.
type sourceFile struct {
	Sources []Input `yaml:"sources"`
}

func loadSources(path string) ([]Input, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var sf sourceFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range sf.Sources {
		validateSource(&sf.Sources[i], i)
	}
	return sf.Sources, nil
}

func validateSource(src *Input, index int) {
	if src.Name == "" {
		src.Name = fmt.Sprintf("source_%d", index+1)
	}
	if src.Type == "" {
		src.Type = "m3u"
	}
	if src.Order <= 0 {
		src.Order = index + 1
	}
	if src.MaxConnections <= 0 {
		src.MaxConnections = 5
	}
	if src.MaxStreamTimeout <= 0 {
		src.MaxStreamTimeout = 30 * time.Second
	}
	if src.RetryDelay <= 0 {
		src.RetryDelay = 5 * time.Second
	}
	if src.MaxRetries <= 0 {
		src.MaxRetries = 3
	}
	if src.MaxFailuresBeforeBlock <= 0 {
		src.MaxFailuresBeforeBlock = 5
	}
	if src.MinDataSize <= 0 {
		src.MinDataSize = 1
	}
	if src.UserAgent == "" {
		src.UserAgent = "VLC/3.0.18 LibVLC/3.0.18"
	}
}

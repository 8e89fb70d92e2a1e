package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MappingFile is mapping.yml's (or the merged mapping.d/*.yml's) shape:
// reusable filter/rename/mapper definitions plus the per-target
// compositions that reference them by name. Raw expression strings only —
// compiling a FilterDef into a *filter.Compiled or a MapperDef into a
// *mapper.Script is the composition root's job (work/compose), which is also
// where identity.Secret-dependent and registry-dependent wiring happens.
type MappingFile struct {
	Filters []FilterDef `yaml:"filters"`
	Renames []RenameDef `yaml:"renames"`
	Mappers []MapperDef `yaml:"mappers"`
	Targets []TargetDef `yaml:"targets"`
}

// FilterDef is one named C3 filter expression.
type FilterDef struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// RenameDef is one named field-rewrite rule: items matching Match have
// Field rewritten by replacing Pattern with Replacement (spec §4.5 Rename
// stage).
type RenameDef struct {
	Name        string `yaml:"name"`
	Match       string `yaml:"match"` // a FilterDef name, or an inline C3 expr
	Field       string `yaml:"field"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MapperDef is one named C4 mapper script, with its own counters and
// create_alias toggle (spec §4.4).
type MapperDef struct {
	Name        string        `yaml:"name"`
	Script      string        `yaml:"script"`
	CreateAlias bool          `yaml:"create_alias"`
	Counters    []CounterDef  `yaml:"counters"`
	Templates   map[string]string `yaml:"templates"`
}

// CounterDef is spec §4.4's per-mapping Counter declaration.
type CounterDef struct {
	Filter   string `yaml:"filter"` // an inline C3 expression (mapper templates apply) scoping which items advance the counter
	Initial  int    `yaml:"initial"`
	Field    string `yaml:"field"`    // title, name, chno
	Modifier string `yaml:"modifier"` // assign, suffix, prefix
	Concat   string `yaml:"concat"`
	Padding  int    `yaml:"padding"`
}

// TargetDef is one output target's full pipeline composition (spec §4.5),
// referencing sources by Input.Name and filters/renames/mappers by their
// FilterDef/RenameDef/MapperDef name.
type TargetDef struct {
	Name             string   `yaml:"name"`
	Sources          []string `yaml:"sources"`
	ProcessingOrder  string   `yaml:"processing_order"` // one of the six permutations of {f,r,m}; default "frm"
	Filters          []string `yaml:"filters"`
	Renames          []string `yaml:"renames"`
	Mappers          []string `yaml:"mappers"`
	OutputFilters    []string `yaml:"output_filters"`
	SortField        string   `yaml:"sort_field"`
	SortDescending   bool     `yaml:"sort_descending"`
	RemoveDuplicates bool     `yaml:"remove_duplicates"`
	IgnoreLogo       bool     `yaml:"ignore_logo"`
	Output           OutputDef `yaml:"output"`
}

// OutputDef is spec §4.11's per-target output toggle set, one YAML block
// shared by the M3U/Xtream/STRM/HDHomeRun emitters, mirroring
// model.OutputConfig plus the format-specific extras.
type OutputDef struct {
	IncludeTypeInURL       bool   `yaml:"include_type_in_url"`
	MaskRedirectURL        bool   `yaml:"mask_redirect_url"`
	SkipLiveDirectSource   *bool  `yaml:"skip_live_direct_source"`
	SkipVideoDirectSource  *bool  `yaml:"skip_video_direct_source"`
	SkipSeriesDirectSource *bool  `yaml:"skip_series_direct_source"`

	STRM STRMDef `yaml:"strm"`
}

// STRMDef is spec §4.11's STRM-specific toggle set.
type STRMDef struct {
	Enabled              bool   `yaml:"enabled"`
	Root                 string `yaml:"root"`
	Style                string `yaml:"style"` // kodi, plex, emby, jellyfin
	Flat                 bool   `yaml:"flat"`
	UnderscoreWhitespace bool   `yaml:"underscore_whitespace"`
	AddQualityToFilename bool   `yaml:"add_quality_to_filename"`
	Cleanup              bool   `yaml:"cleanup"`
	Props                string `yaml:"strm_props"`
}

func loadMapping(path string) (MappingFile, error) {
	var mf MappingFile
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return mf, nil
	}
	if err != nil {
		return mf, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return mf, fmt.Errorf("parse %s: %w", path, err)
	}
	validateMapping(&mf)
	return mf, nil
}

// loadMappingDir merges every *.yml in dir in strict lexicographic
// filename order (spec §3/§9 "Lexicographic loading of mapping.d": m_10.yml
// precedes m_2.yml; see DESIGN.md Open Question decision 2 — this is kept
// deliberately, not switched to natural sort).
func loadMappingDir(dir string) (MappingFile, error) {
	var merged MappingFile
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return merged, nil
	}
	if err != nil {
		return merged, fmt.Errorf("read mapping dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // lexicographic, not natural — intentional

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return merged, fmt.Errorf("read %s: %w", name, err)
		}
		var fragment MappingFile
		if err := yaml.Unmarshal(data, &fragment); err != nil {
			return merged, fmt.Errorf("parse %s: %w", name, err)
		}
		merged.Filters = append(merged.Filters, fragment.Filters...)
		merged.Renames = append(merged.Renames, fragment.Renames...)
		merged.Mappers = append(merged.Mappers, fragment.Mappers...)
		merged.Targets = append(merged.Targets, fragment.Targets...)
	}
	validateMapping(&merged)
	return merged, nil
}

func validateMapping(mf *MappingFile) {
	for i := range mf.Targets {
		t := &mf.Targets[i]
		if t.ProcessingOrder == "" {
			t.ProcessingOrder = "frm"
		}
		if t.SortField == "" {
			t.SortField = "tvg-name"
		}
		trueVal := true
		if t.Output.SkipLiveDirectSource == nil {
			t.Output.SkipLiveDirectSource = &trueVal
		}
		if t.Output.SkipVideoDirectSource == nil {
			t.Output.SkipVideoDirectSource = &trueVal
		}
		if t.Output.SkipSeriesDirectSource == nil {
			t.Output.SkipSeriesDirectSource = &trueVal
		}
		if t.Output.STRM.Enabled && t.Output.STRM.Style == "" {
			t.Output.STRM.Style = "kodi"
		}
	}
}

package output

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/model"
)

// STRMStyle is the directory-naming convention spec §4.11 names.
type STRMStyle string

const (
	StyleKodi    STRMStyle = "kodi"
	StylePlex    STRMStyle = "plex"
	StyleEmby    STRMStyle = "emby"
	StyleJellyfin STRMStyle = "jellyfin"
)

// STRMOptions mirrors every per-target STRM toggle spec §4.11 lists.
type STRMOptions struct {
	Style                STRMStyle
	Flat                 bool
	UnderscoreWhitespace bool
	AddQualityToFilename bool
	Cleanup              bool
	Props                string // strm_props contents, written verbatim at the top of each .strm
}

// qualityPattern extracts a trailing resolution/quality tag, e.g. "Movie
// Title (2021) 1080p" -> "1080p", for add_quality_to_filename.
var qualityPattern = regexp.MustCompile(`(?i)\b(4K|2160p|1080p|720p|576p|480p|SD|HD|FHD|UHD)\b`)

// kodiDefaults is written ahead of strm_props for style=kodi when the
// caller supplies no explicit props (spec §4.11 "sensible defaults are
// added").
const kodiDefaults = "#KODIPROP:inputstream=inputstream.ffmpegdirect\n#KODIPROP:mimetype=video/mp2t\n"

// Write renders target's items as one .strm file per item under root,
// organized per opts.Style, and returns the number of files written.
// cleanup=true removes root before writing (spec §4.11 warns this must
// never point at an existing media library — callers are responsible for
// that check; this function performs the deletion as instructed).
func Write(root string, t *model.Target, opts STRMOptions, buildURL URLBuilder, user *model.User) (int, error) {
	if opts.Cleanup {
		if err := os.RemoveAll(root); err != nil {
			return 0, apperr.Wrap(apperr.IOFailed, "cleanup strm root", err)
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, apperr.Wrap(apperr.IOFailed, "create strm root", err)
	}

	n := 0
	for _, it := range t.Items {
		dir := root
		if !opts.Flat {
			dir = filepath.Join(root, folderFor(it, opts))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return n, apperr.Wrap(apperr.IOFailed, "create strm folder", err)
			}
		}
		name := fileNameFor(it, opts)
		path := filepath.Join(dir, name+".strm")

		var body strings.Builder
		if opts.Style == StyleKodi && opts.Props == "" {
			body.WriteString(kodiDefaults)
		}
		if opts.Props != "" {
			body.WriteString(opts.Props)
			if !strings.HasSuffix(opts.Props, "\n") {
				body.WriteByte('\n')
			}
		}
		body.WriteString(buildURL(it, user))
		body.WriteByte('\n')

		if err := os.WriteFile(path, []byte(body.String()), 0o644); err != nil {
			return n, apperr.Wrap(apperr.IOFailed, "write strm file", err)
		}
		n++
	}
	return n, nil
}

// folderFor builds the per-item folder path under root: the item's group,
// with plex/emby/jellyfin series nested one level deeper under the caption.
// No category tag is added to folder names.
func folderFor(it *model.Item, opts STRMOptions) string {
	group := sanitize(it.Group, opts.UnderscoreWhitespace)
	switch opts.Style {
	case StylePlex, StyleEmby, StyleJellyfin:
		if it.Type == model.Series {
			return filepath.Join(group, sanitize(it.Caption(), opts.UnderscoreWhitespace))
		}
		return group
	default: // kodi
		return group
	}
}

func fileNameFor(it *model.Item, opts STRMOptions) string {
	name := sanitize(it.Caption(), opts.UnderscoreWhitespace)
	if opts.AddQualityToFilename {
		if q := qualityPattern.FindString(it.Name + " " + it.Title); q != "" && !strings.Contains(name, q) {
			name = name + " " + q
		}
	}
	return name
}

func sanitize(s string, underscoreWhitespace bool) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		default:
			return r
		}
	}, s)
	if underscoreWhitespace {
		s = strings.Join(strings.Fields(s), "_")
	}
	return s
}

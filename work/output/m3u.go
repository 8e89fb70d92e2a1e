package output

import (
	"strconv"
	"strings"

	"kptv-proxy/work/model"
)

// M3UOptions controls the optional per-target toggles spec §4.11 names for
// the M3U output.
type M3UOptions struct {
	IncludeTypeInURL bool
	Download         bool // type=m3u_plus: toggles a download disposition, set by the caller on the response
}

// WriteM3U renders target's items as an extended M3U playlist: one
// #EXTM3U header followed by an #EXTINF/url pair per item, in target
// order (spec §4.11). buildURL resolves each item's final embedded URL.
func WriteM3U(sb *strings.Builder, t *model.Target, user *model.User, opts M3UOptions, buildURL URLBuilder) {
	sb.WriteString("#EXTM3U\n")
	for _, it := range t.Items {
		writeExtinf(sb, it)
		sb.WriteString(resolveURL(it, user, opts.IncludeTypeInURL, buildURL))
		sb.WriteByte('\n')
	}
}

func writeExtinf(sb *strings.Builder, it *model.Item) {
	sb.WriteString(`#EXTINF:-1`)
	writeAttr(sb, "tvg-id", it.EPGChannelID)
	writeAttr(sb, "tvg-name", it.Caption())
	writeAttr(sb, "tvg-logo", it.Logo)
	writeAttr(sb, "group-title", it.Group)
	if it.Chno != 0 {
		writeAttr(sb, "tvg-chno", strconv.Itoa(it.Chno))
	}
	sb.WriteByte(',')
	sb.WriteString(it.Caption())
	sb.WriteByte('\n')
}

func writeAttr(sb *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteString(`="`)
	sb.WriteString(strings.ReplaceAll(value, `"`, `'`))
	sb.WriteByte('"')
}

// resolveURL delegates to buildURL for the signed/direct URL, then (per
// spec §4.11 include_type_in_url) inserts a /live//movie//series/ path
// segment ahead of the final path component when enabled.
func resolveURL(it *model.Item, user *model.User, includeType bool, buildURL URLBuilder) string {
	raw := buildURL(it, user)
	if !includeType {
		return raw
	}
	segment := "/" + it.Type.String() + "/"
	if it.Type == model.Vod {
		segment = "/movie/"
	}
	idx := strings.LastIndex(raw, "/")
	if idx < 0 {
		return raw
	}
	return raw[:idx] + strings.TrimSuffix(segment, "/") + raw[idx:]
}

package output

import (
	"strconv"

	"kptv-proxy/work/model"
)

// Xtream JSON shapes, grounded on the teacher's work/parser/xtremecodes.go
// ingest structs (XCLiveStream/XCSeries/XCVODStream) but used here in the
// opposite direction: these are emitted to clients, bit-compatible with
// Xtream Codes v2 (spec §4.11).

type XtreamCategory struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	ParentID     int    `json:"parent_id"`
}

type XtreamLiveStream struct {
	Num          int    `json:"num"`
	Name         string `json:"name"`
	StreamType   string `json:"stream_type"`
	StreamID     int    `json:"stream_id"`
	StreamIcon   string `json:"stream_icon"`
	EPGChannelID string `json:"epg_channel_id"`
	Added        string `json:"added"`
	CategoryID   string `json:"category_id"`
	CustomSID    string `json:"custom_sid"`
	TVArchive    int    `json:"tv_archive"`
	DirectSource string `json:"direct_source,omitempty"`
	TVArchiveDur int    `json:"tv_archive_duration"`
}

type XtreamVODStream struct {
	Num                int    `json:"num"`
	Name               string `json:"name"`
	StreamType         string `json:"stream_type"`
	StreamID           int    `json:"stream_id"`
	StreamIcon         string `json:"stream_icon"`
	Added              string `json:"added"`
	CategoryID         string `json:"category_id"`
	ContainerExtension string `json:"container_extension"`
	DirectSource       string `json:"direct_source,omitempty"`
}

type XtreamVODInfo struct {
	Info   map[string]any  `json:"info"`
	Movie  XtreamVODStream `json:"movie_data"`
}

type XtreamSeries struct {
	Num        int    `json:"num"`
	Name       string `json:"name"`
	SeriesID   int    `json:"series_id"`
	Cover      string `json:"cover"`
	CategoryID string `json:"category_id"`
	Plot       string `json:"plot"`
	ReleaseDate string `json:"releaseDate"`
}

type XtreamSeriesInfo struct {
	Info   map[string]any               `json:"info"`
	Seasons []map[string]any            `json:"seasons"`
	Episodes map[string][]XtreamEpisode `json:"episodes"`
}

type XtreamEpisode struct {
	ID            string         `json:"id"`
	EpisodeNum    int            `json:"episode_num"`
	Title         string         `json:"title"`
	ContainerExt  string         `json:"container_extension"`
	Info          map[string]any `json:"info"`
	Season        int            `json:"season"`
	DirectSource  string         `json:"direct_source,omitempty"`
}

// Categories renders the get_{live,vod,series}_categories shape.
func Categories(t *model.Target) []XtreamCategory {
	cats := CategoriesFor(t)
	out := make([]XtreamCategory, len(cats))
	for i, c := range cats {
		out[i] = XtreamCategory{CategoryID: strconv.Itoa(c.ID), CategoryName: c.Name}
	}
	return out
}

// LiveStreams renders get_live_streams, optionally filtered to categoryID.
// skipDirectSource omits DirectSource per spec §4.11's skip_live_direct_source
// (default true).
func LiveStreams(t *model.Target, categoryID string, skipDirectSource bool, buildURL URLBuilder, user *model.User) []XtreamLiveStream {
	items := ItemsByCategory(t, model.Live, categoryID)
	out := make([]XtreamLiveStream, len(items))
	for i, it := range items {
		out[i] = XtreamLiveStream{
			Num:          i + 1,
			Name:         it.Caption(),
			StreamType:   "live",
			StreamID:     int(it.VirtualID),
			StreamIcon:   it.Logo,
			EPGChannelID: it.EPGChannelID,
			CategoryID:   categoryIDOf(t, it.Group),
			TVArchive:    boolToInt(it.TimeShift != ""),
		}
		if !skipDirectSource {
			out[i].DirectSource = buildURL(it, user)
		}
	}
	return out
}

// VODStreams renders get_vod_streams.
func VODStreams(t *model.Target, categoryID string, skipDirectSource bool, buildURL URLBuilder, user *model.User) []XtreamVODStream {
	items := ItemsByCategory(t, model.Vod, categoryID)
	out := make([]XtreamVODStream, len(items))
	for i, it := range items {
		out[i] = XtreamVODStream{
			Num:                i + 1,
			Name:               it.Caption(),
			StreamType:         "movie",
			StreamID:           int(it.VirtualID),
			StreamIcon:         it.Logo,
			CategoryID:         categoryIDOf(t, it.Group),
			ContainerExtension: "mp4",
		}
		if !skipDirectSource {
			out[i].DirectSource = buildURL(it, user)
		}
	}
	return out
}

// Series renders get_series.
func Series(t *model.Target, categoryID string) []XtreamSeries {
	items := ItemsByCategory(t, model.Series, categoryID)
	out := make([]XtreamSeries, len(items))
	for i, it := range items {
		out[i] = XtreamSeries{
			Num:        i + 1,
			Name:       it.Caption(),
			SeriesID:   int(it.VirtualID),
			Cover:      it.Logo,
			CategoryID: categoryIDOf(t, it.Group),
		}
		if meta, ok := t.SeriesInfo[it.VirtualID]; ok {
			out[i].Plot = meta.Plot
			out[i].ReleaseDate = meta.ReleaseDate
		}
	}
	return out
}

// SeriesInfoFor renders get_series_info for one series virtual id.
func SeriesInfoFor(meta *model.SeriesMeta, skipDirectSource bool, buildEpisodeURL func(episodeID string) string) XtreamSeriesInfo {
	info := XtreamSeriesInfo{
		Info: map[string]any{
			"name":        meta.Name,
			"cover":       meta.Cover,
			"plot":        meta.Plot,
			"genre":       meta.Genre,
			"releaseDate": meta.ReleaseDate,
		},
		Episodes: make(map[string][]XtreamEpisode, len(meta.Seasons)),
	}
	for _, season := range meta.Seasons {
		seasonKey := strconv.Itoa(season.SeasonNumber)
		info.Seasons = append(info.Seasons, map[string]any{"season_number": season.SeasonNumber})
		episodes := make([]XtreamEpisode, len(season.Episodes))
		for i, ep := range season.Episodes {
			episodes[i] = XtreamEpisode{
				ID:           ep.ID,
				EpisodeNum:   ep.Episode,
				Title:        ep.Title,
				ContainerExt: "mp4",
				Season:       season.SeasonNumber,
				Info:         map[string]any{"duration": ep.Duration},
			}
			if skipDirectSource {
				continue
			}
			episodes[i].DirectSource = buildEpisodeURL(ep.ID)
		}
		info.Episodes[seasonKey] = episodes
	}
	return info
}

func categoryIDOf(t *model.Target, group string) string {
	if id, ok := t.Categories[group]; ok {
		return strconv.Itoa(id)
	}
	return "0"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

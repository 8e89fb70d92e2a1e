package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/model"
	"kptv-proxy/work/output"
)

// xtreamUserInfo/xtreamServerInfo mirror the Xtream Codes v2 panel's
// account-info JSON shape (spec §6 player_api.php with no action param),
// kept local to this handler since, unlike the category/stream renderers,
// nothing else in the proxy emits this shape.
type xtreamUserInfo struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	Auth           int    `json:"auth"`
	Status         string `json:"status"`
	ExpDate        string `json:"exp_date"`
	MaxConnections string `json:"max_connections"`
	ActiveCons     string `json:"active_cons"`
}

type xtreamServerInfo struct {
	URL            string `json:"url"`
	Port           string `json:"port"`
	ServerProtocol string `json:"server_protocol"`
	TimezoneNow    string `json:"timezone"`
	TimeNow        string `json:"time_now"`
}

type xtreamAccountResponse struct {
	UserInfo   xtreamUserInfo   `json:"user_info"`
	ServerInfo xtreamServerInfo `json:"server_info"`
}

// handlePlayerAPI serves player_api.php and panel_api.php: account info
// with no action param, otherwise the category/stream/series actions spec
// §6 lists.
func (a *App) handlePlayerAPI(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, ok := a.Target(user.Target)
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "target not found"))
		return
	}

	action := r.URL.Query().Get("action")
	if action == "" {
		a.writeAccountInfo(w, r, user)
		return
	}

	buildURL := a.URLBuilder(t.Name, a.Config().Global.BaseURL)
	categoryID := r.URL.Query().Get("category_id")

	switch action {
	case "get_live_categories":
		writeJSON(w, output.Categories(filterTarget(t, model.Live)))
	case "get_vod_categories":
		writeJSON(w, output.Categories(filterTarget(t, model.Vod)))
	case "get_series_categories":
		writeJSON(w, output.Categories(filterTarget(t, model.Series)))
	case "get_live_streams":
		writeJSON(w, output.LiveStreams(t, categoryID, t.Output.SkipLiveDirectSource, buildURL, user))
	case "get_vod_streams":
		writeJSON(w, output.VODStreams(t, categoryID, t.Output.SkipVideoDirectSource, buildURL, user))
	case "get_series":
		writeJSON(w, output.Series(t, categoryID))
	case "get_vod_info":
		a.writeVODInfo(w, t, r.URL.Query().Get("vod_id"))
	case "get_series_info":
		a.writeSeriesInfo(w, t, r.URL.Query().Get("series_id"), buildURL)
	case "get_short_epg", "get_simple_data_table":
		writeJSON(w, []any{})
	default:
		writeJSON(w, map[string]any{})
	}
}

func (a *App) writeAccountInfo(w http.ResponseWriter, r *http.Request, user *model.User) {
	now := time.Now()
	expDate := ""
	if user.ExpDate != nil {
		expDate = strconv.FormatInt(user.ExpDate.Unix(), 10)
	}
	maxConns := strconv.Itoa(user.MaxConnections)
	if user.MaxConnections == 0 {
		maxConns = "0"
	}
	writeJSON(w, xtreamAccountResponse{
		UserInfo: xtreamUserInfo{
			Username:       user.Username,
			Password:       "",
			Auth:           1,
			Status:         user.Status,
			ExpDate:        expDate,
			MaxConnections: maxConns,
			ActiveCons:     strconv.Itoa(a.UserConnCounter(user).Current()),
		},
		ServerInfo: xtreamServerInfo{
			URL:            a.Config().Global.BaseURL,
			Port:           "80",
			ServerProtocol: "http",
			TimezoneNow:    now.Location().String(),
			TimeNow:        now.Format("2006-01-02 15:04:05"),
		},
	})
}

// filterTarget returns a shallow target view scoped to one item type, so
// output.Categories (which reads t.Categories/t.Items wholesale) reports
// only the categories actually populated by that type. Category ids are
// shared across types; this only changes which names appear.
func filterTarget(t *model.Target, typ model.ItemType) *model.Target {
	items := output.ItemsByType(t, typ)
	cats := make(map[string]int)
	for _, it := range items {
		if id, ok := t.Categories[it.Group]; ok {
			cats[it.Group] = id
		}
	}
	return &model.Target{Name: t.Name, Items: items, Categories: cats}
}

func (a *App) writeVODInfo(w http.ResponseWriter, t *model.Target, vodID string) {
	vid, err := strconv.ParseUint(vodID, 10, 64)
	if err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "bad vod_id"))
		return
	}
	for _, it := range output.ItemsByType(t, model.Vod) {
		if it.VirtualID == vid {
			writeJSON(w, map[string]any{
				"info": map[string]any{"name": it.Caption(), "cover_big": it.Logo},
				"movie_data": map[string]any{
					"stream_id":           int(it.VirtualID),
					"name":                it.Caption(),
					"container_extension": "mp4",
				},
			})
			return
		}
	}
	writeError(w, apperr.New(apperr.NotFound, "vod not found"))
}

func (a *App) writeSeriesInfo(w http.ResponseWriter, t *model.Target, seriesID string, buildURL output.URLBuilder) {
	vid, err := strconv.ParseUint(seriesID, 10, 64)
	if err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "bad series_id"))
		return
	}
	meta, ok := t.SeriesInfo[vid]
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "series not found"))
		return
	}
	info := output.SeriesInfoFor(meta, t.Output.SkipSeriesDirectSource, func(episodeID string) string {
		return a.Config().Global.BaseURL + "/series/_/_/" + episodeID + ".mp4"
	})
	writeJSON(w, info)
}

// handleXMLTV serves xmltv.php: a minimal EPG document covering the user's
// bound target's live channels. The full xmltv grammar (programmes, EPG
// provider ingest) is scoped out per spec Non-goals; this emits just the
// <channel> registry external EPG clients need to resolve ids, grounded on
// the same EPGChannelID field the Xtream live-stream renderer exposes.
func (a *App) handleXMLTV(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, ok := a.Target(user.Target)
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "target not found"))
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<tv>\n"))
	for _, it := range output.ItemsByType(t, model.Live) {
		if it.EPGChannelID == "" {
			continue
		}
		w.Write([]byte(`  <channel id="` + xmlEscape(it.EPGChannelID) + `"><display-name>` + xmlEscape(it.Caption()) + `</display-name></channel>` + "\n"))
	}
	w.Write([]byte("</tv>\n"))
}

func xmlEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out = append(out, []byte("&amp;")...)
		case '<':
			out = append(out, []byte("&lt;")...)
		case '>':
			out = append(out, []byte("&gt;")...)
		case '"':
			out = append(out, []byte("&quot;")...)
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(v)
}

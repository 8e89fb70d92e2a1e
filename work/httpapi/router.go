package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full public HTTP surface spec §6 names: M3U/Xtream
// playlist endpoints, EPG, live/VOD/series stream endpoints, HLS rewriting,
// and HDHomeRun device emulation, gzip-compressed and IP-rate-limited the
// way the teacher's setupAdminRoutes/compression middleware wraps its own
// mux.Router, generalized here from the teacher's fixed
// work/middleware/compression.go gzip.Writer pool to klauspost/compress's
// gzhttp (already the corpus's compression library of choice, per go.mod)
// and the teacher's unwired go-chi/httprate declaration put to actual use.
func NewRouter(app *App) *mux.Router {
	r := mux.NewRouter()

	limit := httprate.LimitByRealIP(app.Config().Global.RateLimit.BurstSize, time.Second)
	if app.Config().Global.RateLimit.Enabled {
		r.Use(limit)
	}
	r.Use(func(h http.Handler) http.Handler { return gzhttp.GzipHandler(h) })

	r.HandleFunc("/get.php", app.handleGetM3U).Methods(http.MethodGet)
	r.HandleFunc("/playlist.m3u", app.handleGetM3U).Methods(http.MethodGet)

	r.HandleFunc("/player_api.php", app.handlePlayerAPI).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/panel_api.php", app.handlePlayerAPI).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/xmltv.php", app.handleXMLTV).Methods(http.MethodGet)

	r.HandleFunc("/live/{username}/{password}/{streamID}.{ext}", app.handleXtreamLive).Methods(http.MethodGet)
	r.HandleFunc("/movie/{username}/{password}/{streamID}.{ext}", app.handleXtreamVOD).Methods(http.MethodGet)
	r.HandleFunc("/series/{username}/{password}/{episodeID}.{ext}", app.handleXtreamSeries).Methods(http.MethodGet)

	r.HandleFunc("/stream/{cluster}/{token}", app.handleStreamToken).Methods(http.MethodGet)
	r.HandleFunc("/hls/{cluster}/{token}/manifest.m3u8", app.handleHLSManifest).Methods(http.MethodGet)
	r.HandleFunc("/hls/{cluster}/{token}/{segment}", app.handleHLSSegment).Methods(http.MethodGet)

	r.HandleFunc("/device.xml", app.handleHDHRDeviceXML).Methods(http.MethodGet)
	r.HandleFunc("/discover.json", app.handleHDHRDiscover).Methods(http.MethodGet)
	r.HandleFunc("/lineup.json", app.handleHDHRLineup).Methods(http.MethodGet)
	r.HandleFunc("/lineup_status.json", app.handleHDHRLineupStatus).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

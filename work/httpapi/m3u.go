package httpapi

import (
	"net/http"
	"strings"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/output"
)

// handleGetM3U serves get.php / playlist.m3u: the authenticated user's
// bound target rendered as an extended M3U playlist (spec §6, §4.11).
func (a *App) handleGetM3U(w http.ResponseWriter, r *http.Request) {
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

	opts := output.M3UOptions{
		IncludeTypeInURL: t.Output.IncludeTypeInURL,
		Download:         r.URL.Query().Get("type") == "m3u_plus",
	}

	var sb strings.Builder
	output.WriteM3U(&sb, t, user, opts, a.URLBuilder(t.Name, a.Config().Global.BaseURL))

	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	if opts.Download {
		w.Header().Set("Content-Disposition", `attachment; filename="playlist.m3u"`)
	}
	w.Write([]byte(sb.String()))
}

func writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	http.Error(w, err.Error(), status)
}

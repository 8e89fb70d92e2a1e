package httpapi

import (
	"net/http"
	"sort"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/model"
	"kptv-proxy/work/output"
)

// handleHDHRDeviceXML, handleHDHRDiscover, handleHDHRLineup,
// handleHDHRLineupStatus serve the HDHomeRun emulation endpoints spec
// §4.11 names. The proxy emulates a single tuner device (global.hdhomerun,
// not a per-target setting), bound to the first target in name order when
// no authenticated user narrows it — see DESIGN.md's Open Question
// decision on device-to-target binding.
func (a *App) handleHDHRDeviceXML(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config().Global
	doc := output.DeviceXML(a.DeviceID, a.DeviceUDN, cfg.HDHomeRun.FriendlyName, cfg.BaseURL, cfg.HDHomeRun.TunerCount)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write([]byte(doc))
}

func (a *App) handleHDHRDiscover(w http.ResponseWriter, r *http.Request) {
	cfg := a.Config().Global
	body, err := output.DiscoverJSON(a.DeviceID, cfg.BaseURL, cfg.HDHomeRun.TunerCount)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.IOFailed, "marshal discover.json", err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(body)
}

func (a *App) handleHDHRLineup(w http.ResponseWriter, r *http.Request) {
	var user *model.User
	if a.Config().Global.HDHomeRun.Auth {
		u, err := a.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		user = u
	}

	t, ok := a.boundTarget(user)
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "no target available for hdhomerun lineup"))
		return
	}

	body, err := output.Lineup(t, a.URLBuilder(t.Name, a.Config().Global.BaseURL), user)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.IOFailed, "marshal lineup.json", err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(body)
}

func (a *App) handleHDHRLineupStatus(w http.ResponseWriter, r *http.Request) {
	body, err := output.LineupStatus()
	if err != nil {
		writeError(w, apperr.Wrap(apperr.IOFailed, "marshal lineup_status.json", err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(body)
}

// boundTarget resolves the target the emulated device's lineup serves:
// the authenticated user's own target when hdhomerun.auth is set, else the
// first target in name order so an unauthenticated lineup request is still
// deterministic across restarts.
func (a *App) boundTarget(user *model.User) (*model.Target, bool) {
	if user != nil {
		return a.Target(user.Target)
	}
	targets := a.Targets()
	if len(targets) == 0 {
		return nil, false
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets[0], true
}

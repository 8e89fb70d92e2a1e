package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/httpapi"
)

// setupAdminRoutes registers the read-mostly operational API the admin
// dashboard drives: process/build stats, the built target and user tables,
// the live hub fan-out snapshot, and the two administrative actions spec
// §6 names (kicking a user, forcing a config reload). Grounded
// on the teacher's setupAdminRoutes (its own StatsResponse/ChannelResponse
// JSON endpoints feeding an admin web UI), generalized from the teacher's
// channel/restreamer model to this architecture's target/user/hub model.
func setupAdminRoutes(router *mux.Router, app *httpapi.App) {
	router.HandleFunc("/admin/stats", adminStats(app)).Methods(http.MethodGet)
	router.HandleFunc("/admin/targets", adminTargets(app)).Methods(http.MethodGet)
	router.HandleFunc("/admin/users", adminUsers(app)).Methods(http.MethodGet)
	router.HandleFunc("/admin/hubs", adminHubs(app)).Methods(http.MethodGet)
	router.HandleFunc("/admin/users/{username}/kick", adminKickUser(app)).Methods(http.MethodPost)
	router.HandleFunc("/admin/reload", adminReload(app)).Methods(http.MethodPost)
}

// statsResponse is the admin dashboard's top-level process summary.
type statsResponse struct {
	Uptime        string `json:"uptime"`
	Generation    int64  `json:"generation"`
	TotalTargets  int    `json:"totalTargets"`
	TotalUsers    int    `json:"totalUsers"`
	TotalSources  int    `json:"totalSources"`
	TotalHubs     int    `json:"totalHubs"`
	WorkerThreads int    `json:"workerThreads"`
	CacheEnabled  bool   `json:"cacheEnabled"`
}

func adminStats(app *httpapi.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := app.Config()
		writeAdminJSON(w, statsResponse{
			Uptime:        app.Uptime().String(),
			Generation:    cfg.Generation,
			TotalTargets:  len(app.Targets()),
			TotalUsers:    len(app.Config().APIProxy.Users),
			TotalSources:  len(cfg.Sources),
			TotalHubs:     app.Hubs.Count(),
			WorkerThreads: cfg.Global.WorkerThreads,
			CacheEnabled:  cfg.Global.CacheEnabled,
		})
	}
}

// targetSummary is one row of the admin targets table.
type targetSummary struct {
	Name       string `json:"name"`
	ItemCount  int    `json:"itemCount"`
	Categories int    `json:"categories"`
}

func adminTargets(app *httpapi.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		targets := app.Targets()
		out := make([]targetSummary, 0, len(targets))
		for _, t := range targets {
			out = append(out, targetSummary{Name: t.Name, ItemCount: len(t.Items), Categories: len(t.Categories)})
		}
		writeAdminJSON(w, out)
	}
}

// userSummary is one row of the admin users table; PasswordHash is never
// exposed.
type userSummary struct {
	Username        string `json:"username"`
	Target          string `json:"target"`
	Status          string `json:"status"`
	MaxConnections  int    `json:"maxConnections"`
	ActiveConnections int  `json:"activeConnections"`
}

func adminUsers(app *httpapi.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defs := app.Config().APIProxy.Users
		out := make([]userSummary, 0, len(defs))
		for _, d := range defs {
			u, ok := app.User(d.Username)
			if !ok {
				continue
			}
			out = append(out, userSummary{
				Username:          u.Username,
				Target:            u.Target,
				Status:            u.Status,
				MaxConnections:    u.MaxConnections,
				ActiveConnections: app.UserConnCounter(u).Current(),
			})
		}
		writeAdminJSON(w, out)
	}
}

func adminHubs(app *httpapi.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeAdminJSON(w, app.Hubs.Snapshot())
	}
}

// adminKickUser blocks the named user's re-admission for the configured
// kick window (spec §4.8 kick). Streams the user already has open are not
// terminated; they run until they end on their own.
func adminKickUser(app *httpapi.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := mux.Vars(r)["username"]
		if _, ok := app.User(username); !ok {
			writeAdminError(w, apperr.New(apperr.UserUnknown, "unknown user"))
			return
		}
		app.Kicks.Kick(username, time.Now())
		writeAdminJSON(w, map[string]string{"status": "kicked", "username": username})
	}
}

// adminReload forces an out-of-band config re-read, for operators who
// changed mapping.yml/source.yml and don't want to wait on fsnotify.
func adminReload(app *httpapi.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app.Watcher.Reload()
		writeAdminJSON(w, map[string]string{"status": "reloaded"})
	}
}

func writeAdminJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(v)
}

func writeAdminError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	http.Error(w, err.Error(), status)
}

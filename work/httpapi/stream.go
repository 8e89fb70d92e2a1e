package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/hub"
	"kptv-proxy/work/identity"
	"kptv-proxy/work/model"
	"kptv-proxy/work/providerclient"
	"kptv-proxy/work/session"
)

// handleXtreamLive, handleXtreamVOD, handleXtreamSeries serve the direct,
// credential-bearing Xtream stream paths (spec §6 /live, /movie, /series).
// Each resolves the path's {streamID}/{episodeID} against the user's bound
// target and falls through to serveItem for admission and redirect/reverse
// delivery.
func (a *App) handleXtreamLive(w http.ResponseWriter, r *http.Request) {
	a.serveXtreamPath(w, r, model.Live)
}

func (a *App) handleXtreamVOD(w http.ResponseWriter, r *http.Request) {
	a.serveXtreamPath(w, r, model.Vod)
}

func (a *App) handleXtreamSeries(w http.ResponseWriter, r *http.Request) {
	a.serveXtreamPath(w, r, model.Series)
}

func (a *App) serveXtreamPath(w http.ResponseWriter, r *http.Request, typ model.ItemType) {
	vars := mux.Vars(r)
	user, ok := a.User(vars["username"])
	if !ok {
		writeError(w, apperr.New(apperr.UserUnknown, "unknown user"))
		return
	}
	if !verifyPassword(user.PasswordHash, vars["password"]) {
		writeError(w, apperr.New(apperr.UserUnknown, "bad credentials"))
		return
	}
	if user.Status != "active" || user.Expired(time.Now()) {
		writeError(w, apperr.New(apperr.UserExpired, "account not active"))
		return
	}

	idKey := "streamID"
	if typ == model.Series {
		idKey = "episodeID"
	}
	vid, err := strconv.ParseUint(vars[idKey], 10, 64)
	if err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "bad stream id"))
		return
	}

	t, ok := a.Target(user.Target)
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "target not found"))
		return
	}
	it, ok := findItem(t, typ, vid)
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "stream not found"))
		return
	}
	a.serveItem(w, r, t, user, it)
}

func findItem(t *model.Target, typ model.ItemType, vid uint64) (*model.Item, bool) {
	for _, it := range t.Items {
		if it.Type == typ && it.VirtualID == vid {
			return it, true
		}
	}
	return nil, false
}

// handleStreamToken serves /stream/{cluster}/{token}: the signed, rewritten
// reverse/masked-mode stream URL URLBuilder mints (spec §4.1). The token
// carries target, cluster, virtual id, and the owning user's fingerprint;
// the user itself is recovered via App.UserByFingerprint since the token
// never carries a username in the clear.
func (a *App) handleStreamToken(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, err := identity.Open(a.Secret, vars["token"], time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	user, ok := a.UserByFingerprint(payload.UserFingerprint)
	if !ok {
		writeError(w, apperr.New(apperr.UserUnknown, "unknown token subject"))
		return
	}
	t, ok := a.Target(payload.Target)
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "target not found"))
		return
	}
	it, ok := findItem(t, clusterItemType(payload.Cluster), payload.VirtualID)
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "stream not found"))
		return
	}
	a.serveItem(w, r, t, user, it)
}

func clusterItemType(c identity.Cluster) model.ItemType {
	switch c {
	case identity.ClusterVod:
		return model.Vod
	case identity.ClusterSeries:
		return model.Series
	default:
		return model.Live
	}
}

// serveItem redirects redirect-mode items (proxy_mode=redirect) to the
// provider URL straight away, without admission. Reverse-mode items go
// through admission (spec §4.8's ordered checks) and are then delivered as a
// reverse proxied byte stream. Live items on a source configured with
// share_live_streams fan out through one shared work/hub upstream instead
// of opening a fresh provider connection per client.
func (a *App) serveItem(w http.ResponseWriter, r *http.Request, t *model.Target, user *model.User, it *model.Item) {
	if !user.ReverseModeFor(it.Type) {
		http.Redirect(w, r, it.URL, http.StatusFound)
		return
	}

	client, ok := a.Clients[it.Input]
	if !ok {
		writeError(w, apperr.Newf(apperr.ConfigInvalid, "no client configured for source %q", it.Input))
		return
	}
	if a.Kicks.Blocked(user.Username, time.Now()) {
		writeError(w, apperr.New(apperr.UserLimitReached, "session kicked"))
		return
	}

	userConns := a.UserConnCounter(user)
	providerConns := a.ProviderConnCounter(it.Input, a.sourceMaxConnections(it.Input))
	grace := a.GraceFor(it.Input)

	gc, isGrace, err := session.Admit(session.Admission{
		Secret:        a.Secret,
		Now:           time.Now(),
		User:          user,
		UserConns:     userConns,
		ProviderConns: providerConns,
		Grace:         grace,
	})
	if err != nil {
		a.serveFallbackOrError(w, err)
		return
	}

	sessID := fmt.Sprintf("%s-%d-%d", user.Username, it.VirtualID, time.Now().UnixNano())
	sess := session.New(sessID, session.ModeReverse, user, a.bufferConfig(), session.ThrottleConfig{}, providerConns, userConns, gc, isGrace, a.Log)
	defer sess.Close()

	w.Header().Set("Content-Type", contentTypeFor(mux.Vars(r)["ext"]))

	if it.Type == model.Live && a.sourceSharesLive(it.Input) {
		a.streamShared(sess, w, r, t, it, client)
		return
	}

	upstream, err := session.OpenUpstream(sess.Context(), client, it.URL)
	if err != nil {
		sess.Fail(err)
		a.serveFallbackOrError(w, err)
		return
	}
	defer upstream.Close()

	if _, err := sess.Stream(upstream, w); err != nil && sess.Context().Err() == nil {
		sess.Fail(err)
	}
}

// streamShared attaches sess's client id to the hub for (t, it)'s virtual
// id, creating the hub (and its single upstream connection) on first
// attach, then copies the hub's fan-out queue to w until the request or
// session context ends (spec §4.9).
func (a *App) streamShared(sess *session.Session, w http.ResponseWriter, r *http.Request, t *model.Target, it *model.Item, client *providerclient.Client) {
	key := hub.Key(t.Name, it.VirtualID)
	upstream := func(ctx context.Context) (io.ReadCloser, error) {
		return session.OpenUpstream(ctx, client, it.URL)
	}
	cfg := hub.Config{BurstBufferBytes: a.Config().Global.SharedBurstBufferBytes(), Log: a.Log}
	_, ch := a.Hubs.AttachOrCreate(key, sess.ID, 0, upstream, cfg)
	defer a.Hubs.Detach(key, sess.ID)

	flusher, _ := w.(http.Flusher)
	for {
		select {
		case <-sess.Context().Done():
			return
		case <-r.Context().Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				sess.Fail(err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func contentTypeFor(ext string) string {
	switch ext {
	case "m3u8":
		return "application/vnd.apple.mpegurl"
	case "mp4":
		return "video/mp4"
	default:
		return "video/mp2t"
	}
}

func (a *App) sourceMaxConnections(name string) int {
	for _, src := range a.Config().Sources {
		if src.Name == name {
			return src.MaxConnections
		}
	}
	return 0
}

func (a *App) sourceSharesLive(name string) bool {
	for _, src := range a.Config().Sources {
		if src.Name == name {
			return src.ShareLiveStreams
		}
	}
	return false
}

func (a *App) bufferConfig() session.BufferConfig {
	mb := a.Config().Global.BufferSizePerStreamMB
	if mb <= 0 {
		return session.BufferConfig{}
	}
	chunks := int(mb*1024*1024) / session.ChunkSize
	if chunks < 1 {
		chunks = 1
	}
	return session.BufferConfig{Enabled: true, Size: chunks}
}

// serveFallbackOrError answers an admission/streaming failure kind that has
// a fallback asset (spec §4.8) with status 200, Content-Type video/mp2t and
// an X-Fallback-Asset header naming the asset; the asset's bytes are not
// written, so the body is empty. Other kinds get the mapped HTTP error.
func (a *App) serveFallbackOrError(w http.ResponseWriter, err error) {
	if asset, ok := session.Fallback(apperr.KindOf(err)); ok {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("X-Fallback-Asset", string(asset))
		w.WriteHeader(http.StatusOK)
		return
	}
	writeError(w, err)
}

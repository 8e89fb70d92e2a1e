package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/hls"
	"kptv-proxy/work/identity"
	"kptv-proxy/work/providerclient"
)

// handleHLSManifest serves /hls/{cluster}/{token}/manifest.m3u8: the
// token's payload names the channel item whose manifest is fetched and
// rewritten (spec §4.10) so every segment/variant URL routes back through
// handleHLSSegment.
func (a *App) handleHLSManifest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, err := identity.Open(a.Secret, vars["token"], time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := a.UserByFingerprint(payload.UserFingerprint); !ok {
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
	client, ok := a.Clients[it.Input]
	if !ok {
		writeError(w, apperr.Newf(apperr.ConfigInvalid, "no client configured for source %q", it.Input))
		return
	}
	a.serveHLSResource(w, r, client, it.URL, payload.Target, payload.Cluster, payload.UserFingerprint, it.Input)
}

// handleHLSSegment serves /hls/{cluster}/{token}/{segment}: the token's
// derived virtual id resolves (via App.HLS) to the upstream URL Rewrite
// signed it for, and the source that URL belongs to, so the fetch replays
// through the same provider client/header policy as the manifest request
// did.
func (a *App) handleHLSSegment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	payload, err := identity.Open(a.Secret, vars["token"], time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	resolvedURL, sourceName, ok := a.HLS.Resolve(payload.VirtualID, time.Now())
	if !ok {
		writeError(w, apperr.New(apperr.NotFound, "hls resource expired or unknown"))
		return
	}
	client, ok := a.Clients[sourceName]
	if !ok {
		writeError(w, apperr.Newf(apperr.ConfigInvalid, "no client configured for source %q", sourceName))
		return
	}
	a.serveHLSResource(w, r, client, resolvedURL, payload.Target, payload.Cluster, payload.UserFingerprint, sourceName)
}

// serveHLSResource fetches resourceURL through client and either rewrites
// it (when it looks like a sub-manifest — variant playlists referenced by
// EXT-X-STREAM-INF resolve to further .m3u8 documents) or streams it
// through verbatim (segments).
func (a *App) serveHLSResource(w http.ResponseWriter, r *http.Request, client *providerclient.Client, resourceURL, target string, cluster identity.Cluster, fingerprint uint64, sourceName string) {
	resp, err := client.Get(r.Context(), resourceURL)
	if err != nil {
		writeError(w, err)
		return
	}
	defer resp.Body.Close()

	if !looksLikeManifest(resourceURL, resp.Header.Get("Content-Type")) {
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		io.Copy(w, resp.Body)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.IOFailed, "read hls manifest", err))
		return
	}

	now := time.Now()
	baseURL := a.Config().Global.BaseURL
	clusterPath := clusterItemType(cluster).String()
	signer := func(resolved string) string {
		segPayload := hls.SegmentTokenPayload(identity.KindStream, target, cluster, resolved, fingerprint)
		a.HLS.Put(segPayload.VirtualID, resolved, sourceName, now)
		token := identity.Sign(a.Secret, segPayload)
		return baseURL + "/hls/" + clusterPath + "/" + token + "/seg"
	}

	rewritten, err := hls.Rewrite(resourceURL, body, signer)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write(rewritten)
}

func looksLikeManifest(resourceURL, contentType string) bool {
	return strings.HasSuffix(strings.ToLower(resourceURL), ".m3u8") || strings.Contains(contentType, "mpegurl")
}

package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"kptv-proxy/work/apperr"
	"kptv-proxy/work/identity"
	"kptv-proxy/work/model"
)

// authenticate resolves the (username, password) pair from basic auth or
// query params against the app's user table, per spec §6's "credentials
// accepted via Basic auth or query string" note.
func (a *App) authenticate(r *http.Request) (*model.User, error) {
	username, password, ok := credentialsFrom(r)
	if !ok {
		return nil, apperr.New(apperr.BadRequest, "missing credentials")
	}
	u, ok := a.User(username)
	if !ok {
		return nil, apperr.New(apperr.UserUnknown, "unknown user")
	}
	if !verifyPassword(u.PasswordHash, password) {
		return nil, apperr.New(apperr.UserUnknown, "bad credentials")
	}
	if u.Status != "active" {
		return nil, apperr.New(apperr.UserExpired, "account not active")
	}
	if u.Expired(time.Now()) {
		return nil, apperr.New(apperr.UserExpired, "account expired")
	}
	return u, nil
}

// verifyPassword constant-time-compares password's sha256 digest against
// the stored hash (see work/compose's hashPassword for why this stays on
// the standard library rather than bcrypt/argon2).
func verifyPassword(storedHash, password string) bool {
	sum := sha256.Sum256([]byte(password))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(storedHash)) == 1
}

func credentialsFrom(r *http.Request) (username, password string, ok bool) {
	if u, p, hasBasic := r.BasicAuth(); hasBasic {
		return u, p, true
	}
	q := r.URL.Query()
	username = q.Get("username")
	password = q.Get("password")
	if username == "" {
		return "", "", false
	}
	return username, password, true
}

// clusterOf maps an ItemType to its identity.Cluster.
func clusterOf(t model.ItemType) identity.Cluster {
	switch t {
	case model.Vod:
		return identity.ClusterVod
	case model.Series:
		return identity.ClusterSeries
	default:
		return identity.ClusterLive
	}
}

// URLBuilder returns an output.URLBuilder closure bound to one user/target,
// minting a signed stream token for reverse/masked-redirect modes (spec
// §4.1) or returning the bare provider URL for plain redirect mode. baseURL
// is the proxy's externally visible base (config global.base_url).
func (a *App) URLBuilder(targetName, baseURL string) func(it *model.Item, user *model.User) string {
	return func(it *model.Item, user *model.User) string {
		if user == nil {
			return it.URL
		}
		masked := false
		if t, ok := a.Target(targetName); ok {
			masked = t.Output.MaskRedirectURL
		}
		if !user.ReverseModeFor(it.Type) && !masked {
			return it.URL
		}
		payload := identity.Payload{
			Kind:            identity.KindStream,
			Target:          targetName,
			Cluster:         clusterOf(it.Type),
			VirtualID:       it.VirtualID,
			UserFingerprint: identity.Fingerprint(user.Username),
		}
		token := identity.Sign(a.Secret, payload)
		return baseURL + "/stream/" + it.Type.String() + "/" + token
	}
}

package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-proxy/work/identity"
	"kptv-proxy/work/model"
)

func appWithUser(u *model.User) *App {
	app := New(nil)
	app.SetUsers(map[string]*model.User{u.Username: u})
	return app
}

func TestCredentialsFromBasicAuth(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("alice", "pw")

	u, p, ok := credentialsFrom(r)
	assert.True(t, ok)
	assert.Equal(t, "alice", u)
	assert.Equal(t, "pw", p)
}

func TestCredentialsFromQueryParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?username=bob&password=pw2", nil)
	u, p, ok := credentialsFrom(r)
	assert.True(t, ok)
	assert.Equal(t, "bob", u)
	assert.Equal(t, "pw2", p)
}

func TestCredentialsFromMissingUsernameFails(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, _, ok := credentialsFrom(r)
	assert.False(t, ok)
}

func TestAuthenticateRejectsUnknownUser(t *testing.T) {
	app := New(nil)
	r := httptest.NewRequest(http.MethodGet, "/?username=nobody&password=x", nil)
	_, err := app.authenticate(r)
	require.Error(t, err)
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	u := &model.User{Username: "alice", PasswordHash: hashForTest("correct"), Status: "active"}
	app := appWithUser(u)
	r := httptest.NewRequest(http.MethodGet, "/?username=alice&password=wrong", nil)
	_, err := app.authenticate(r)
	require.Error(t, err)
}

func TestAuthenticateRejectsInactiveAccount(t *testing.T) {
	u := &model.User{Username: "alice", PasswordHash: hashForTest("pw"), Status: "disabled"}
	app := appWithUser(u)
	r := httptest.NewRequest(http.MethodGet, "/?username=alice&password=pw", nil)
	_, err := app.authenticate(r)
	require.Error(t, err)
}

func TestAuthenticateAcceptsValidCredentials(t *testing.T) {
	u := &model.User{Username: "alice", PasswordHash: hashForTest("pw"), Status: "active"}
	app := appWithUser(u)
	r := httptest.NewRequest(http.MethodGet, "/?username=alice&password=pw", nil)
	got, err := app.authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestClusterOfMapsItemTypes(t *testing.T) {
	assert.Equal(t, identity.ClusterLive, clusterOf(model.Live))
	assert.Equal(t, identity.ClusterVod, clusterOf(model.Vod))
	assert.Equal(t, identity.ClusterSeries, clusterOf(model.Series))
}

func TestURLBuilderReturnsBareURLForRedirectMode(t *testing.T) {
	app := New(nil)
	build := app.URLBuilder("t1", "http://proxy")
	it := &model.Item{URL: "http://origin/a.ts", Type: model.Live}
	user := &model.User{Username: "alice", ProxyMode: model.ModeRedirect}

	assert.Equal(t, "http://origin/a.ts", build(it, user))
}

func TestURLBuilderMintsSignedTokenForReverseMode(t *testing.T) {
	app := New(nil)
	build := app.URLBuilder("t1", "http://proxy")
	it := &model.Item{URL: "http://origin/a.ts", Type: model.Live, VirtualID: 42}
	user := &model.User{Username: "alice", ProxyMode: model.ModeReverse}

	url := build(it, user)
	assert.Contains(t, url, "http://proxy/stream/live/")

	token := url[len("http://proxy/stream/live/"):]
	payload, err := identity.Open(app.Secret, token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "t1", payload.Target)
	assert.EqualValues(t, 42, payload.VirtualID)
}

func hashForTest(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

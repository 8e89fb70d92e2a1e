package identity

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"
	"kptv-proxy/work/apperr"
)

// Kind distinguishes a resource-rewrite token from a stream token. Resource
// tokens never carry an expiry; stream tokens may (spec §4.1).
type Kind uint8

const (
	KindResource Kind = iota
	KindStream
)

// Cluster mirrors model.ItemType for the subset of clusters a token can name;
// ClusterNone is used for resource tokens that aren't stream-scoped.
type Cluster uint8

const (
	ClusterLive Cluster = iota
	ClusterVod
	ClusterSeries
	ClusterNone
)

// Payload is the signed content of a rewrite token (spec §4.1):
// (kind, target, cluster, virtual_id, user_fingerprint, expiry?).
type Payload struct {
	Kind             Kind
	Target           string
	Cluster          Cluster
	VirtualID        uint64
	UserFingerprint  uint64
	Expiry           time.Time // zero value means no expiry
}

// Fingerprint derives a stable uint64 identity fingerprint for a username,
// embedded in tokens so a token minted for one user cannot be silently
// replayed as another's without failing MAC verification on tamper.
func Fingerprint(username string) uint64 {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(username))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

func (p Payload) marshal() []byte {
	target := []byte(p.Target)
	buf := make([]byte, 0, 1+2+len(target)+1+8+8+8)
	buf = append(buf, byte(p.Kind))
	var tlen [2]byte
	binary.BigEndian.PutUint16(tlen[:], uint16(len(target)))
	buf = append(buf, tlen[:]...)
	buf = append(buf, target...)
	buf = append(buf, byte(p.Cluster))
	var vid, fp, exp [8]byte
	binary.BigEndian.PutUint64(vid[:], p.VirtualID)
	binary.BigEndian.PutUint64(fp[:], p.UserFingerprint)
	var expUnix int64
	if !p.Expiry.IsZero() {
		expUnix = p.Expiry.Unix()
	}
	binary.BigEndian.PutUint64(exp[:], uint64(expUnix))
	buf = append(buf, vid[:]...)
	buf = append(buf, fp[:]...)
	buf = append(buf, exp[:]...)
	return buf
}

func unmarshalPayload(buf []byte) (Payload, error) {
	var p Payload
	if len(buf) < 1+2 {
		return p, errors.New("payload too short")
	}
	p.Kind = Kind(buf[0])
	tlen := int(binary.BigEndian.Uint16(buf[1:3]))
	off := 3
	if len(buf) < off+tlen+1+24 {
		return p, errors.New("payload truncated")
	}
	p.Target = string(buf[off : off+tlen])
	off += tlen
	p.Cluster = Cluster(buf[off])
	off++
	p.VirtualID = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	p.UserFingerprint = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	expUnix := int64(binary.BigEndian.Uint64(buf[off : off+8]))
	if expUnix != 0 {
		p.Expiry = time.Unix(expUnix, 0)
	}
	return p, nil
}

// Sign mints base64(payload ++ mac) for payload under secret.
func Sign(secret Secret, payload Payload) string {
	body := payload.marshal()
	tag := mac(secret, body)
	full := append(body, tag...)
	return base64.RawURLEncoding.EncodeToString(full)
}

// macSize is fixed by blake2b-256's digest size.
const macSize = 32

// Open verifies token under secret and extracts its Payload. Returns a
// TokenInvalid apperr.Error on MAC mismatch or malformed input, and
// TokenExpired if the payload carries an expiry that has passed.
func Open(secret Secret, token string, now time.Time) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Payload{}, apperr.New(apperr.TokenInvalid, "malformed token encoding")
	}
	if len(raw) < macSize {
		return Payload{}, apperr.New(apperr.TokenInvalid, "token too short")
	}
	body := raw[:len(raw)-macSize]
	tag := raw[len(raw)-macSize:]
	if !verify(secret, body, tag) {
		return Payload{}, apperr.New(apperr.TokenInvalid, "mac mismatch")
	}
	payload, err := unmarshalPayload(body)
	if err != nil {
		return Payload{}, apperr.Wrap(apperr.TokenInvalid, "malformed payload", err)
	}
	if !payload.Expiry.IsZero() && now.After(payload.Expiry) {
		return Payload{}, apperr.New(apperr.TokenExpired, "token expired")
	}
	return payload, nil
}

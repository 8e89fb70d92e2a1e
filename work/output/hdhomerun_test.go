package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-proxy/work/model"
)

func TestDeviceIDFromBaseProducesChecksumValidID(t *testing.T) {
	id := DeviceIDFromBase("1234567")
	assert.True(t, ValidDeviceID(id))
	assert.Len(t, id, 8)
}

func TestDeviceIDFromBasePadsShortInputAndStripsNonHex(t *testing.T) {
	id := DeviceIDFromBase("AB-cd")
	assert.True(t, ValidDeviceID(id))
}

func TestDeviceIDFromBaseEmptyGeneratesFresh(t *testing.T) {
	id := DeviceIDFromBase("")
	assert.True(t, ValidDeviceID(id))
}

func TestGenerateDeviceIDIsAlwaysValid(t *testing.T) {
	for i := 0; i < 20; i++ {
		assert.True(t, ValidDeviceID(GenerateDeviceID()))
	}
}

func TestValidDeviceIDRejectsWrongLengthOrBadHex(t *testing.T) {
	assert.False(t, ValidDeviceID("1234"))
	assert.False(t, ValidDeviceID("ZZZZZZZZ"))
}

func TestValidDeviceIDRejectsBadChecksum(t *testing.T) {
	id := DeviceIDFromBase("1234567")
	v, err := strconv.ParseUint(id[7:8], 16, 8)
	require.NoError(t, err)
	flipped := (v + 1) % 16
	corrupted := id[:7] + fmt.Sprintf("%X", flipped)
	assert.False(t, ValidDeviceID(corrupted))
}

func TestDeviceUDNIsDeterministicPerDeviceID(t *testing.T) {
	u1 := DeviceUDN("10123456")
	u2 := DeviceUDN("10123456")
	u3 := DeviceUDN("10654321")
	assert.Equal(t, u1, u2)
	assert.NotEqual(t, u1, u3)
}

func TestDiscoverJSONFieldsRoundTrip(t *testing.T) {
	raw, err := DiscoverJSON("10123456", "http://host:8080", 4)
	require.NoError(t, err)

	var d Discover
	require.NoError(t, json.Unmarshal(raw, &d))
	assert.Equal(t, "10123456", d.DeviceID)
	assert.Equal(t, "http://host:8080/lineup.json", d.LineupURL)
	assert.Equal(t, 4, d.TunerCount)
}

func TestLineupNumbersByChnoOrOrdinal(t *testing.T) {
	tgt := &model.Target{Items: []*model.Item{
		{Name: "A", Type: model.Live, Chno: 10},
		{Name: "B", Type: model.Live},
		{Name: "Movie", Type: model.Vod},
	}}
	raw, err := Lineup(tgt, func(it *model.Item, u *model.User) string { return "http://x" }, nil)
	require.NoError(t, err)

	var entries []LineupEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 2, "vod items are excluded from the tuner lineup")
	assert.Equal(t, "10", entries[0].GuideNumber)
	assert.Equal(t, "2", entries[1].GuideNumber, "unassigned channel falls back to ordinal position")
}

func TestLineupStatusReportsNoScan(t *testing.T) {
	raw, err := LineupStatus()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.EqualValues(t, 0, m["ScanPossible"])
}

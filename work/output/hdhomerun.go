package output

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"kptv-proxy/work/model"
)

// checksumLookup is the HDHomeRun device-id checksum nibble-substitution
// table, ported verbatim from the original implementation's
// hdhomerun_utils (shared/src/utils/hdhomerun_utils.rs) since no example
// repo in the corpus carries an HDHomeRun checksum of its own.
var checksumLookup = [16]byte{0xA, 0x5, 0xF, 0x6, 0x7, 0xC, 0x1, 0xB, 0x9, 0x2, 0x8, 0xD, 0x4, 0x3, 0xE, 0x0}

func checksum(deviceIDInt uint32) byte {
	var c byte
	c ^= checksumLookup[(deviceIDInt>>28)&0x0F]
	c ^= byte((deviceIDInt >> 24) & 0x0F)
	c ^= checksumLookup[(deviceIDInt>>20)&0x0F]
	c ^= byte((deviceIDInt >> 16) & 0x0F)
	c ^= checksumLookup[(deviceIDInt>>12)&0x0F]
	c ^= byte((deviceIDInt >> 8) & 0x0F)
	c ^= checksumLookup[(deviceIDInt>>4)&0x0F]
	return c
}

// ValidDeviceID reports whether id is a well-formed, checksum-valid 8-hex
// HDHomeRun device id (spec §4.11 "device_id must be a valid 8-hex
// HDHomeRun ID (checksum)").
func ValidDeviceID(id string) bool {
	if len(id) != 8 {
		return false
	}
	v, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return false
	}
	return byte(v&0x0F) == checksum(uint32(v))
}

// DeviceIDFromBase derives a checksum-valid device id from baseID's hex
// digits (spec §4.11 "invalid IDs are corrected"), padding/truncating to 7
// digits and appending the computed checksum nibble.
func DeviceIDFromBase(baseID string) string {
	var sanitized strings.Builder
	for _, r := range baseID {
		if isHex(r) {
			sanitized.WriteRune(r)
		}
	}
	s := sanitized.String()
	if s == "" {
		return GenerateDeviceID()
	}
	if len(s) > 7 {
		s = s[:7]
	}
	for len(s) < 7 {
		s += "0"
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return GenerateDeviceID()
	}
	base := uint32(v)
	final := (base << 4) | uint32(checksum(base<<4))
	return fmt.Sprintf("%08X", final)
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') || (r >= 'a' && r <= 'f')
}

// GenerateDeviceID mints a fresh checksum-valid device id for an input with
// no configured device_id (spec §4.11 "empty IDs are generated").
func GenerateDeviceID() string {
	var b [2]byte
	rand.Read(b[:])
	randomPart := fmt.Sprintf("%04X", (uint16(b[0])<<8|uint16(b[1]))&0xFFFF)
	return DeviceIDFromBase("105" + randomPart[:4] + "0")
}

// DeviceUDN builds the per-device UUID spec §4.11 requires ("a UUID with a
// per-device suffix"), deterministic per deviceID so restarts don't churn
// SSDP identity.
func DeviceUDN(deviceID string) string {
	ns := uuid.MustParse("2C4B0964-2F45-4A99-AD74-66D29BB35EC7")
	return "uuid:" + uuid.NewSHA1(ns, []byte(deviceID)).String()
}

// DeviceXML renders the UPnP device description document served at
// /device.xml.
func DeviceXML(deviceID, udn, friendlyName, baseURL string, tunerCount int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <URLBase>%s</URLBase>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>%s</friendlyName>
    <manufacturer>Silicondust</manufacturer>
    <modelName>HDTC-2US</modelName>
    <modelNumber>HDTC-2US</modelNumber>
    <serialNumber>%s</serialNumber>
    <UDN>%s</UDN>
  </device>
</root>`, baseURL, friendlyName, deviceID, udn)
}

// Discover is the /discover.json response shape.
type Discover struct {
	FriendlyName    string `json:"FriendlyName"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth,omitempty"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

func DiscoverJSON(deviceID, baseURL string, tunerCount int) ([]byte, error) {
	return json.Marshal(Discover{
		FriendlyName:    "IPTV Proxy",
		ModelNumber:     "HDTC-2US",
		FirmwareName:    "hdhomeruntc_atsc",
		FirmwareVersion: "20200101",
		DeviceID:        deviceID,
		BaseURL:         baseURL,
		LineupURL:       baseURL + "/lineup.json",
		TunerCount:      tunerCount,
	})
}

// LineupEntry is one channel in /lineup.json.
type LineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

// Lineup renders /lineup.json for target's live items, numbering channels
// by Chno when assigned, falling back to ordinal position (spec §4.11).
func Lineup(t *model.Target, buildURL URLBuilder, user *model.User) ([]byte, error) {
	items := ItemsByType(t, model.Live)
	out := make([]LineupEntry, len(items))
	for i, it := range items {
		num := it.Chno
		if num == 0 {
			num = i + 1
		}
		out[i] = LineupEntry{
			GuideNumber: strconv.Itoa(num),
			GuideName:   it.Caption(),
			URL:         buildURL(it, user),
		}
	}
	return json.Marshal(out)
}

// LineupStatus renders /lineup_status.json; the proxy always reports
// ScanPossible=0 since it never performs an RF channel scan.
func LineupStatus() ([]byte, error) {
	return json.Marshal(map[string]any{
		"ScanInProgress": 0,
		"ScanPossible":   0,
		"Source":         "Cable",
		"SourceList":     []string{"Cable"},
	})
}

// Package model holds the playlist data model shared by every component of
// the proxy: the item shape ingested from providers, the virtual identifiers
// minted for it, and the per-target playlists the pipeline produces.
package model

// ItemType classifies a playlist item. "movie" is accepted on ingest as an
// alias of VOD and normalized to Vod immediately (spec §3: type never changes
// after ingest).
type ItemType int

const (
	Live ItemType = iota
	Vod
	Series
)

func (t ItemType) String() string {
	switch t {
	case Vod:
		return "vod"
	case Series:
		return "series"
	default:
		return "live"
	}
}

// ParseItemType maps a provider/config string to an ItemType, folding the
// "movie" alias into Vod.
func ParseItemType(s string) (ItemType, bool) {
	switch s {
	case "live":
		return Live, true
	case "vod", "movie":
		return Vod, true
	case "series":
		return Series, true
	default:
		return Live, false
	}
}

// Item is one ordered record of a provider playlist, after normalization.
// All string fields are kept even when empty so the filter/mapper DSLs can
// address them uniformly.
type Item struct {
	Name         string
	Title        string
	Group        string
	ID           string // provider-side stream id
	Chno         int    // 0 means unassigned
	URL          string
	Logo         string
	LogoSmall    string
	ParentCode   string
	AudioTrack   string
	TimeShift    string
	Rec          string
	EPGChannelID string
	EPGID        string
	Input        string // opaque input/source name
	Type         ItemType

	VirtualID uint64 // assigned by the identity registry (C6), stable across runs
}

// Caption returns Title if present, else Name (spec §3: caption is always
// defined). It is derived on every call; no stored caption field exists.
func (it *Item) Caption() string {
	if it.Title != "" {
		return it.Title
	}
	return it.Name
}

// Field reads a named item field for the filter/mapper DSLs. The field set
// mirrors spec §4.3/§4.4: Name, Title, Caption, Group, Url, Input, Type, plus
// the mapper's field-assignment targets.
func (it *Item) Field(name string) (string, bool) {
	switch name {
	case "Name", "name":
		return it.Name, true
	case "Title", "title":
		return it.Title, true
	case "Caption", "caption":
		return it.Caption(), true
	case "Group", "group":
		return it.Group, true
	case "Url", "url":
		return it.URL, true
	case "Input", "input":
		return it.Input, true
	case "Type", "type":
		return it.Type.String(), true
	case "Logo", "logo":
		return it.Logo, true
	case "LogoSmall", "logo_small":
		return it.LogoSmall, true
	case "Chno", "chno":
		if it.Chno == 0 {
			return "", true
		}
		return itoa(it.Chno), true
	case "EpgChannelId", "epg_channel_id":
		return it.EPGChannelID, true
	case "EpgId", "epg_id":
		return it.EPGID, true
	case "ID", "id":
		return it.ID, true
	case "ParentCode", "parent_code":
		return it.ParentCode, true
	case "AudioTrack", "audio_track":
		return it.AudioTrack, true
	case "TimeShift", "time_shift":
		return it.TimeShift, true
	case "Rec", "rec":
		return it.Rec, true
	default:
		return "", false
	}
}

// SetField writes a named item field; used by the mapper DSL's `@field`
// assignment target. Type and Input are immutable per spec invariants and
// are rejected.
func (it *Item) SetField(name, value string) bool {
	switch name {
	case "Name", "name":
		it.Name = value
	case "Title", "title":
		it.Title = value
	case "Caption", "caption":
		it.Title = value
		it.Name = value
	case "Group", "group":
		it.Group = value
	case "Url", "url":
		it.URL = value
	case "Logo", "logo":
		it.Logo = value
	case "LogoSmall", "logo_small":
		it.LogoSmall = value
	case "EpgChannelId", "epg_channel_id":
		it.EPGChannelID = value
	case "EpgId", "epg_id":
		it.EPGID = value
	case "ParentCode", "parent_code":
		it.ParentCode = value
	case "AudioTrack", "audio_track":
		it.AudioTrack = value
	case "TimeShift", "time_shift":
		it.TimeShift = value
	case "Rec", "rec":
		it.Rec = value
	default:
		return false
	}
	return true
}

// Clone returns a deep-enough copy of the item for create_alias mapping
// (spec §4.4): the clone shares no mutable state with the original.
func (it *Item) Clone() *Item {
	c := *it
	return &c
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

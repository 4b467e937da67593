package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TrackKind discriminates remote tracks from local files.
type TrackKind int

const (
	RemoteTrack TrackKind = iota // Track owned by a platform, fetched through a resolver
	LocalTrack                   // Track backed by a file on disk, never downloaded
)

func (k TrackKind) String() string {
	switch k {
	case RemoteTrack:
		return "remote"
	case LocalTrack:
		return "local"
	default:
		return ""
	}
}

// MediaKey is the stable identity of a track: platform and id joined with "@".
type MediaKey string

// NewMediaKey builds the [MediaKey] for a platform/id pair.
func NewMediaKey(platform, id string) MediaKey {
	return MediaKey(platform + "@" + id)
}

func (k MediaKey) String() string { return string(k) }

// DownloadData records where a track's media was stored and at which quality.
type DownloadData struct {
	Path    string  `json:"path"`
	Quality Quality `json:"quality"`
}

// Track is a song inside a sheet.
//
// Identity (platform, id) is fixed at construction; only display fields are mutable.
// Unknown JSON fields are carried through untouched so that snapshots survive a round trip.
type Track struct {
	kind     TrackKind
	platform string
	id       string

	Title     string
	Artist    string
	Album     string
	Artwork   string
	Duration  float64       // Duration in seconds
	LocalPath string        // Set for [LocalTrack] only
	Download  *DownloadData // Set once the media has been fetched or linked

	extra map[string]json.RawMessage
}

// NewRemoteTrack creates a track owned by a platform.
func NewRemoteTrack(platform, id, title, artist string) Track {
	return Track{kind: RemoteTrack, platform: platform, id: id, Title: title, Artist: artist}
}

// NewLocalTrack creates a track backed by a file at path.
func NewLocalTrack(id, title, artist, path string) Track {
	return Track{kind: LocalTrack, platform: LocalPlatform, id: id, Title: title, Artist: artist, LocalPath: path}
}

func (t Track) Kind() TrackKind  { return t.kind }
func (t Track) Platform() string { return t.platform }
func (t Track) ID() string       { return t.id }
func (t Track) Key() MediaKey    { return NewMediaKey(t.platform, t.id) }

// IsLocal reports whether the track is a local file.
func (t Track) IsLocal() bool { return t.kind == LocalTrack }

// Same reports whether two tracks share an identity.
func (t Track) Same(o Track) bool {
	return t.platform == o.platform && t.id == o.id
}

// FileStem returns "title-artist" with characters that are unsafe in file names replaced by "_".
//
// Used for download file names and backed-up object names.
func (t Track) FileStem() string {
	return fileNameReplacer.Replace(t.Title + "-" + t.Artist)
}

var fileNameReplacer = strings.NewReplacer(
	"/", "_", "|", "_", "\\", "_", "?", "_", "*", "_", "\"", "_", "<", "_", ">", "_", ":", "_",
)

// WithDownload returns a copy of the track carrying the given download data.
func (t Track) WithDownload(d *DownloadData) Track {
	t.Download = d
	return t
}

// Validate checks the identity fields.
func (t Track) Validate() error {
	if t.platform == "" {
		return fmt.Errorf("track platform is required")
	}
	if t.id == "" {
		return fmt.Errorf("track id is required")
	}
	return nil
}

type internalData struct {
	DownloadData *DownloadData `json:"downloadData,omitempty"`
}

var knownTrackFields = []string{"id", "platform", "title", "artist", "album", "artwork", "duration", "$$localPath", "$"}

// MarshalJSON writes the desktop player's media item shape.
func (t Track) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.extra)+8)
	for k, v := range t.extra {
		out[k] = v
	}
	out["id"] = t.id
	out["platform"] = t.platform
	out["title"] = t.Title
	out["artist"] = t.Artist
	if t.Album != "" {
		out["album"] = t.Album
	}
	if t.Artwork != "" {
		out["artwork"] = t.Artwork
	}
	if t.Duration > 0 {
		out["duration"] = t.Duration
	}
	if t.kind == LocalTrack && t.LocalPath != "" {
		out["$$localPath"] = t.LocalPath
	}
	if t.Download != nil {
		out["$"] = internalData{DownloadData: t.Download}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a media item. Numeric ids are accepted and stored in their decimal form.
func (t *Track) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, err := decodeID(raw["id"])
	if err != nil {
		return fmt.Errorf("invalid track id: %w", err)
	}

	var track Track
	track.id = id
	if err := decodeString(raw["platform"], &track.platform); err != nil {
		return fmt.Errorf("invalid track platform: %w", err)
	}
	for field, dst := range map[string]*string{
		"title":       &track.Title,
		"artist":      &track.Artist,
		"album":       &track.Album,
		"artwork":     &track.Artwork,
		"$$localPath": &track.LocalPath,
	} {
		if err := decodeString(raw[field], dst); err != nil {
			return fmt.Errorf("invalid track %s: %w", field, err)
		}
	}
	if v, ok := raw["duration"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &track.Duration); err != nil {
			var s string
			if json.Unmarshal(v, &s) == nil {
				track.Duration, _ = strconv.ParseFloat(s, 64)
			}
		}
	}
	if v, ok := raw["$"]; ok && !isNull(v) {
		var internal internalData
		if err := json.Unmarshal(v, &internal); err == nil {
			track.Download = internal.DownloadData
		}
	}

	track.kind = RemoteTrack
	if track.platform == LocalPlatform {
		track.kind = LocalTrack
	}

	for _, k := range knownTrackFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		track.extra = raw
	}

	*t = track
	return nil
}

func decodeID(v json.RawMessage) (string, error) {
	if isNull(v) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func decodeString(v json.RawMessage, dst *string) error {
	if isNull(v) {
		return nil
	}
	return json.Unmarshal(v, dst)
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}

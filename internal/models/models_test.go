package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestTrack(t *testing.T) {
	t.Run("Key", func(t *testing.T) {
		tr := NewRemoteTrack("qq", "123", "Song", "Artist")
		if tr.Key() != "qq@123" {
			t.Errorf("expected key qq@123, got %s", tr.Key())
		}
	})

	t.Run("Key ignores display fields", func(t *testing.T) {
		a := NewRemoteTrack("qq", "123", "Song", "Artist")
		b := a
		b.Title = "Renamed"
		b.Album = "Other"
		if a.Key() != b.Key() {
			t.Errorf("expected keys to match, got %s and %s", a.Key(), b.Key())
		}
		if !a.Same(b) {
			t.Error("expected tracks to be the same media")
		}
	})

	t.Run("FileStem", func(t *testing.T) {
		tr := NewRemoteTrack("qq", "1", "A/B: C?", "D*E")
		if got := tr.FileStem(); got != "A_B_ C_-D_E" {
			t.Errorf("expected sanitized stem, got %q", got)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		if err := NewRemoteTrack("", "1", "t", "a").Validate(); err == nil {
			t.Error("expected error for missing platform")
		}
		if err := NewRemoteTrack("qq", "", "t", "a").Validate(); err == nil {
			t.Error("expected error for missing id")
		}
		if err := NewRemoteTrack("qq", "1", "t", "a").Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestTrackJSON(t *testing.T) {
	t.Run("Remote with extra fields", func(t *testing.T) {
		in := `{"id":"42","platform":"qq","title":"Song","artist":"Artist","album":"LP","duration":201.5,"lrc":"x"}`

		var tr Track
		if err := json.Unmarshal([]byte(in), &tr); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if tr.Kind() != RemoteTrack {
			t.Errorf("expected remote track, got %s", tr.Kind())
		}
		if tr.Key() != "qq@42" || tr.Album != "LP" || tr.Duration != 201.5 {
			t.Errorf("unexpected track: %+v", tr)
		}

		out, err := json.Marshal(tr)
		if err != nil {
			t.Fatalf("failed to marshal: %v", err)
		}
		if !strings.Contains(string(out), `"lrc":"x"`) {
			t.Errorf("expected unknown field to survive, got %s", out)
		}
	})

	t.Run("Numeric id", func(t *testing.T) {
		var tr Track
		if err := json.Unmarshal([]byte(`{"id":1234567890123,"platform":"kg","title":"t"}`), &tr); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if tr.ID() != "1234567890123" {
			t.Errorf("expected decimal id, got %s", tr.ID())
		}
	})

	t.Run("Local track", func(t *testing.T) {
		in := `{"id":"f1","platform":"本地","title":"t","artist":"a","$$localPath":"/music/t.mp3"}`
		var tr Track
		if err := json.Unmarshal([]byte(in), &tr); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if !tr.IsLocal() || tr.LocalPath != "/music/t.mp3" {
			t.Errorf("expected local track with path, got %+v", tr)
		}
	})

	t.Run("Download data", func(t *testing.T) {
		tr := NewRemoteTrack("qq", "1", "t", "a").WithDownload(&DownloadData{Path: "/d/t-a.mp3", Quality: QualityHigh})
		out, err := json.Marshal(tr)
		if err != nil {
			t.Fatalf("failed to marshal: %v", err)
		}

		var back Track
		if err := json.Unmarshal(out, &back); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if back.Download == nil || back.Download.Path != "/d/t-a.mp3" || back.Download.Quality != QualityHigh {
			t.Errorf("expected download data to round trip, got %+v", back.Download)
		}
	})
}

func TestQualityOrder(t *testing.T) {
	tests := []struct {
		name     string
		primary  Quality
		fallback QualityFallback
		want     []Quality
	}{
		{"lower from high", QualityHigh, FallbackLower, []Quality{QualityHigh, QualityStandard, QualityLow, QualitySuper}},
		{"higher from standard", QualityStandard, FallbackHigher, []Quality{QualityStandard, QualityHigh, QualitySuper, QualityLow}},
		{"skip", QualitySuper, FallbackSkip, []Quality{QualitySuper}},
		{"unknown primary", Quality("lossless"), FallbackLower, []Quality{QualityStandard, QualityLow, QualityHigh, QualitySuper}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualityOrder(tt.primary, tt.fallback)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	t.Run("ParseSnapshot", func(t *testing.T) {
		data := `{"musicSheets":[{"id":"favorite","title":"","musicList":[{"id":"1","platform":"qq","title":"a","artist":"b"}]},{"id":"x","title":"Road","musicList":[]}]}`
		snap, err := ParseSnapshot([]byte(data))
		if err != nil {
			t.Fatalf("failed to parse: %v", err)
		}
		if len(snap.Sheets) != 2 {
			t.Fatalf("expected 2 sheets, got %d", len(snap.Sheets))
		}
		if !snap.Sheets[0].IsDefault() {
			t.Error("expected first sheet to be the default sheet")
		}
		if snap.TrackCount() != 1 {
			t.Errorf("expected 1 track, got %d", snap.TrackCount())
		}
	})

	t.Run("ParseSnapshot rejects missing sheets", func(t *testing.T) {
		if _, err := ParseSnapshot([]byte(`{"other":[]}`)); err == nil {
			t.Error("expected error for document without musicSheets")
		}
		if _, err := ParseSnapshot([]byte(`not json`)); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("Marshal", func(t *testing.T) {
		snap := &Snapshot{Sheets: []Sheet{{ID: "x", Title: "Road", Tracks: []Track{NewRemoteTrack("qq", "1", "a", "b")}}}}
		data, err := snap.Marshal()
		if err != nil {
			t.Fatalf("failed to marshal: %v", err)
		}
		back, err := ParseSnapshot(data)
		if err != nil {
			t.Fatalf("failed to parse marshaled snapshot: %v", err)
		}
		if back.Sheets[0].Title != "Road" || back.Sheets[0].Tracks[0].Key() != "qq@1" {
			t.Errorf("unexpected snapshot: %+v", back)
		}
	})
}

func TestPersistedSheet(t *testing.T) {
	s := NewPersistedSheet(1, "")
	if err := s.Validate(); err == nil {
		t.Error("expected error without id")
	}

	s.SetID("abc")
	if err := s.Validate(); err == nil {
		t.Error("expected error for empty title on a non-default sheet")
	}

	s.SetID(DefaultSheetID)
	if err := s.Validate(); err != nil {
		t.Errorf("default sheet may be untitled: %v", err)
	}
}

package domain

import (
	"encoding/json"
	"testing"
)

func TestStatusUnmarshalAcceptsWireAliases(t *testing.T) {
	tests := []struct {
		raw  string
		want Status
	}{
		{raw: `"queued"`, want: StatusQueued},
		{raw: `"in_progress"`, want: StatusRunning},
		{raw: `"running"`, want: StatusRunning},
		{raw: `"COMPLETED"`, want: StatusCompleted},
		{raw: `"failed"`, want: StatusFailed},
		{raw: `"expired"`, want: Status("expired")},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			var got Status
			if err := json.Unmarshal([]byte(tc.raw), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tc.want {
				t.Fatalf("status = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSnapshotOf(t *testing.T) {
	progress := 140
	snap, ok := SnapshotOf(Job{ID: "v1", Status: StatusRunning, Progress: &progress})
	if !ok {
		t.Fatal("expected running snapshot")
	}
	running, ok := snap.(Running)
	if !ok {
		t.Fatalf("snapshot = %T, want Running", snap)
	}
	if running.Progress == nil || *running.Progress != 100 {
		t.Fatalf("progress = %v, want clamped 100", running.Progress)
	}

	snap, _ = SnapshotOf(Job{ID: "v2", Status: StatusFailed})
	failed, ok := snap.(Failed)
	if !ok {
		t.Fatalf("snapshot = %T, want Failed", snap)
	}
	if failed.Error.Message != DefaultFailureMessage {
		t.Fatalf("message = %q, want default", failed.Error.Message)
	}

	snap, _ = SnapshotOf(Job{ID: "v3", Status: StatusFailed, Error: &JobError{Code: "moderation_blocked", Message: "blocked"}})
	failed = snap.(Failed)
	if failed.Error.Code != "moderation_blocked" || failed.Error.Message != "blocked" {
		t.Fatalf("error = %+v", failed.Error)
	}

	if _, ok := SnapshotOf(Job{Status: Status("expired")}); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestParseVariant(t *testing.T) {
	v, ok := ParseVariant("")
	if !ok || v != VariantVideo {
		t.Fatalf("empty variant = %q,%v", v, ok)
	}
	if _, ok := ParseVariant("gif"); ok {
		t.Fatal("expected gif to be rejected")
	}
	a := Asset{JobID: "video_123", Variant: VariantSpritesheet}
	if got := a.Filename(); got != "video_123.jpg" {
		t.Fatalf("filename = %q", got)
	}
	if VariantThumbnail.ContentType() != "image/webp" {
		t.Fatalf("thumbnail content type = %q", VariantThumbnail.ContentType())
	}
}

func TestCanonicalReferenceType(t *testing.T) {
	if ct, ok := CanonicalReferenceType("image/jpg; charset=binary"); !ok || ct != "image/jpeg" {
		t.Fatalf("got %q,%v", ct, ok)
	}
	if _, ok := CanonicalReferenceType("image/gif"); ok {
		t.Fatal("gif must be rejected")
	}
}

package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextFireAlignsToBucket(t *testing.T) {
	s := New(Options{Name: "long", Interval: 5 * time.Minute, AlignToBucket: true}, zerolog.Nop())

	now := time.Date(2025, 4, 4, 12, 3, 17, 0, time.UTC)
	next := s.nextFire(now)
	want := time.Date(2025, 4, 4, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextFire = %s, want %s", next, want)
	}

	// Exactly on a boundary: the next fire is the following bucket.
	onBoundary := time.Date(2025, 4, 4, 12, 5, 0, 0, time.UTC)
	if next := s.nextFire(onBoundary); !next.Equal(onBoundary.Add(5*time.Minute)) {
		t.Fatalf("boundary nextFire = %s", next)
	}
}

func TestNextFireUnaligned(t *testing.T) {
	s := New(Options{Name: "hot", Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2025, 4, 4, 12, 3, 17, 0, time.UTC)
	if next := s.nextFire(now); !next.Equal(now.Add(time.Minute)) {
		t.Fatalf("unaligned nextFire = %s", next)
	}
}

func TestBucketStart(t *testing.T) {
	aligned := New(Options{Interval: 5 * time.Minute, AlignToBucket: true}, zerolog.Nop())
	at := time.Date(2025, 4, 4, 12, 5, 0, 0, time.UTC)
	if got := aligned.bucketStart(at.Add(3 * time.Second)); !got.Equal(at) {
		t.Fatalf("bucketStart = %s, want %s", got, at)
	}

	free := New(Options{Interval: 5 * time.Minute}, zerolog.Nop())
	stamp := at.Add(42 * time.Second)
	if got := free.bucketStart(stamp); !got.Equal(stamp) {
		t.Fatalf("unaligned bucketStart should pass through, got %s", got)
	}
}

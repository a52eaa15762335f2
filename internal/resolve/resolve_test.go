package resolve

import (
	"testing"

	"regionkv/internal/hlc"
)

func TestShouldApply(t *testing.T) {
	base := hlc.Stamp{WallMS: 1000, Counter: 2, Node: "eu"}

	tests := []struct {
		name      string
		existing  *Existing
		incoming  hlc.Stamp
		updatedBy string
		want      bool
	}{
		{
			name:      "no existing row always applies",
			existing:  nil,
			incoming:  base,
			updatedBy: "eu",
			want:      true,
		},
		{
			name:      "newer wall millis wins",
			existing:  &Existing{Stamp: base, UpdatedBy: "eu"},
			incoming:  hlc.Stamp{WallMS: 2000, Counter: 0, Node: "us"},
			updatedBy: "us",
			want:      true,
		},
		{
			name:      "older wall millis loses",
			existing:  &Existing{Stamp: base, UpdatedBy: "eu"},
			incoming:  hlc.Stamp{WallMS: 500, Counter: 9, Node: "us"},
			updatedBy: "us",
			want:      false,
		},
		{
			name:      "same millis higher counter wins",
			existing:  &Existing{Stamp: base, UpdatedBy: "eu"},
			incoming:  hlc.Stamp{WallMS: 1000, Counter: 3, Node: "us"},
			updatedBy: "us",
			want:      true,
		},
		{
			name:      "node id inside stamp breaks ms+counter tie",
			existing:  &Existing{Stamp: base, UpdatedBy: "eu"},
			incoming:  hlc.Stamp{WallMS: 1000, Counter: 2, Node: "us"},
			updatedBy: "us",
			want:      true,
		},
		{
			name:      "fully equal stamp falls back to updated_by",
			existing:  &Existing{Stamp: base, UpdatedBy: "aa"},
			incoming:  base,
			updatedBy: "zz",
			want:      true,
		},
		{
			name:      "fully equal stamp with smaller updated_by loses",
			existing:  &Existing{Stamp: base, UpdatedBy: "zz"},
			incoming:  base,
			updatedBy: "aa",
			want:      false,
		},
		{
			name:      "identical stamp and updated_by is rejected",
			existing:  &Existing{Stamp: base, UpdatedBy: "eu"},
			incoming:  base,
			updatedBy: "eu",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldApply(tt.existing, tt.incoming, tt.updatedBy); got != tt.want {
				t.Errorf("ShouldApply = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestShouldApply_Deterministic replays the same concurrent pair many
// times; the winner must never flip.
func TestShouldApply_Deterministic(t *testing.T) {
	eu := hlc.Stamp{WallMS: 7777, Counter: 4, Node: "eu"}
	us := hlc.Stamp{WallMS: 7777, Counter: 4, Node: "us"}

	for i := 0; i < 100; i++ {
		// us over eu: "us" stamp orders after "eu" lexicographically.
		if !ShouldApply(&Existing{Stamp: eu, UpdatedBy: "eu"}, us, "us") {
			t.Fatal("us write should replace eu write")
		}
		// eu over us: must be rejected for the same pair.
		if ShouldApply(&Existing{Stamp: us, UpdatedBy: "us"}, eu, "eu") {
			t.Fatal("eu write should not replace us write")
		}
	}
}

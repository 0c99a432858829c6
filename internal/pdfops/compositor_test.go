package pdfops

import (
	"math"
	"testing"
)

func TestPlaceOnPageFlipsVerticalAxis(t *testing.T) {
	got := PlaceOnPage(Rect{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.1}, 600, 800)

	if !almostEqual(got.X, 60) {
		t.Fatalf("x: got %f, want 60", got.X)
	}
	if !almostEqual(got.Y, 640) {
		t.Fatalf("y: got %f, want 640", got.Y)
	}
	if !almostEqual(got.Width, 120) {
		t.Fatalf("width: got %f, want 120", got.Width)
	}
	if !almostEqual(got.Height, 80) {
		t.Fatalf("height: got %f, want 80", got.Height)
	}
}

func TestPlaceOnPageBottomEdge(t *testing.T) {
	// A rectangle reaching the bottom of the page lands at pdf y=0.
	got := PlaceOnPage(Rect{X: 0, Y: 0.9, Width: 0.5, Height: 0.1}, 595, 842)
	if !almostEqual(got.Y, 0) {
		t.Fatalf("y: got %f, want 0", got.Y)
	}
}

func TestRectValid(t *testing.T) {
	cases := []struct {
		name string
		rect Rect
		want bool
	}{
		{"inside", Rect{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.1}, true},
		{"full page", Rect{X: 0, Y: 0, Width: 1, Height: 1}, true},
		{"zero width", Rect{X: 0.1, Y: 0.1, Width: 0, Height: 0.1}, false},
		{"overflow right", Rect{X: 0.9, Y: 0.1, Width: 0.2, Height: 0.1}, false},
		{"overflow bottom", Rect{X: 0.1, Y: 0.95, Width: 0.1, Height: 0.1}, false},
		{"negative origin", Rect{X: -0.1, Y: 0.1, Width: 0.2, Height: 0.1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rect.Valid(); got != tc.want {
				t.Fatalf("valid(%+v): got %v, want %v", tc.rect, got, tc.want)
			}
		})
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

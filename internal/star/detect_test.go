package star

import "testing"

func makeFieldWithStar(width, height, cx, cy int, peak, bg float32) []float32 {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = bg
	}
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			y, x := cy+dy, cx+dx
			if y < 0 || y >= height || x < 0 || x >= width {
				continue
			}
			r2 := float32(dx*dx + dy*dy)
			data[y*width+x] = bg + peak*float32(1.0/(1.0+r2))
		}
	}
	return data
}

func TestDetectFindsIsolatedStar(t *testing.T) {
	width, height := 64, 64
	data := makeFieldWithStar(width, height, 32, 32, 500, 100)

	res := Detect(data, width, height, 5)
	if len(res.Stars) == 0 {
		t.Fatal("expected at least one detected star")
	}
	s := res.Stars[0]
	if s.X < 30 || s.X > 34 || s.Y < 30 || s.Y > 34 {
		t.Errorf("centroid (%v,%v) not near expected (32,32)", s.X, s.Y)
	}
}

func TestDetectRejectsFlatField(t *testing.T) {
	width, height := 32, 32
	data := make([]float32, width*height)
	for i := range data {
		data[i] = 100
	}
	res := Detect(data, width, height, 5)
	if len(res.Stars) != 0 {
		t.Errorf("flat field should produce no stars, got %d", len(res.Stars))
	}
}

func TestDedupeKeepsBrightestWithinRadius(t *testing.T) {
	stars := []DetectedStar{
		{X: 10, Y: 10, Flux: 100},
		{X: 11, Y: 10, Flux: 50}, // within 3px, dimmer
		{X: 50, Y: 50, Flux: 80}, // far away, kept
	}
	out := dedupe(stars)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

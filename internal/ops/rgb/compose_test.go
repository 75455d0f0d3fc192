package rgb

import (
	"testing"

	"github.com/astrokit/astroengine/internal/stf"
)

func flatChannel(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestComposeRejectsSingleChannel(t *testing.T) {
	r := flatChannel(16, 1)
	_, err := Compose(r, nil, nil, 4, 4, ComposeConfig{})
	if err == nil {
		t.Fatal("expected InsufficientChannels error for a single channel")
	}
}

func TestComposeSynthesizesMissingChannel(t *testing.T) {
	r := flatChannel(16, 0.4)
	b := flatChannel(16, 0.2)
	res, err := Compose(r, nil, b, 4, 4, ComposeConfig{WhiteBalance: WhiteBalanceNone, LinkedStretch: true, StfConfig: stf.DefaultConfig()})
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	if len(res.G) != 16 {
		t.Fatalf("synthesized G channel has wrong length: %d", len(res.G))
	}
}

func TestComposeDimensionMismatch(t *testing.T) {
	r := flatChannel(16, 1)
	g := flatChannel(9, 1)
	_, err := Compose(r, g, nil, 4, 4, ComposeConfig{})
	if err == nil {
		t.Fatal("expected DimensionMismatch error")
	}
}

func TestWhiteBalanceManualAppliesExactGains(t *testing.T) {
	r := flatChannel(16, 1)
	g := flatChannel(16, 1)
	b := flatChannel(16, 1)
	cfg := ComposeConfig{WhiteBalance: WhiteBalanceManual, ManualR: 2, ManualG: 1, ManualB: 0.5, LinkedStretch: true, StfConfig: stf.DefaultConfig()}
	res, err := Compose(r, g, b, 4, 4, cfg)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	if res.WhiteGain != [3]float32{2, 1, 0.5} {
		t.Errorf("WhiteGain = %v, want {2,1,0.5}", res.WhiteGain)
	}
}

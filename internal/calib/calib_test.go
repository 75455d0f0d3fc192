package calib

import "testing"

func TestCreateMasterBiasMedian(t *testing.T) {
	frames := [][]float32{
		{10, 20, 30},
		{12, 18, 32},
		{11, 22, 28},
	}
	bias, err := CreateMasterBias(frames)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{11, 20, 30}
	for i, w := range want {
		if bias[i] != w {
			t.Errorf("bias[%d] = %v, want %v", i, bias[i], w)
		}
	}
}

func TestCreateMasterBiasDimensionMismatch(t *testing.T) {
	_, err := CreateMasterBias([][]float32{{1, 2}, {1, 2, 3}})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestCreateMasterFlatNormalizesToMeanOne(t *testing.T) {
	frames := [][]float32{
		{100, 200, 300, 400},
		{100, 200, 300, 400},
	}
	flat, err := CreateMasterFlat(frames, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sum := float32(0)
	for _, v := range flat {
		sum += v
	}
	mean := sum / float32(len(flat))
	if mean < 0.99 || mean > 1.01 {
		t.Errorf("mean of master flat = %v, want ~1", mean)
	}
}

func TestCalibrateFlatSafetyRule(t *testing.T) {
	raw := []float32{100, 100}
	flat := []float32{1.0, 0.005} // second value below the 0.01 safety threshold
	out, err := Calibrate(raw, nil, nil, flat, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 100 {
		t.Errorf("out[0] = %v, want 100 (raw/flat with flat=1)", out[0])
	}
	if out[1] != 100 {
		t.Errorf("out[1] = %v, want 100 (flat below safety threshold passes raw through)", out[1])
	}
}

func TestCalibrateDimensionMismatch(t *testing.T) {
	_, err := Calibrate([]float32{1, 2}, []float32{1, 2, 3}, nil, nil, 1.0)
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

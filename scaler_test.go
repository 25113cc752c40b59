package webcodecs

import "testing"

func i420Planes(w, h int, fill byte) []rawVideoPlane {
	uvW, uvH := (w+1)/2, (h+1)/2
	mk := func(n int) []byte {
		b := make([]byte, n)
		for i := range b {
			b[i] = fill
		}
		return b
	}
	return []rawVideoPlane{
		{Data: mk(w * h), Stride: w},
		{Data: mk(uvW * uvH), Stride: uvW},
		{Data: mk(uvW * uvH), Stride: uvW},
	}
}

func TestRescaleFilterIdentityPassthrough(t *testing.T) {
	f := newRescaleFilter(640, 360, 640, 360, ScaleModeStretch)
	in := i420Planes(640, 360, 7)
	out := f.scale(in)
	if &out[0].Data[0] != &in[0].Data[0] {
		t.Error("matching geometry should pass planes through untouched")
	}
}

func TestRescaleFilterDownscale(t *testing.T) {
	f := newRescaleFilter(640, 360, 320, 180, ScaleModeStretch)
	out := f.scale(i420Planes(640, 360, 100))

	if len(out) != 3 {
		t.Fatalf("got %d planes", len(out))
	}
	if out[0].Stride != 320 || len(out[0].Data) != 320*180 {
		t.Errorf("Y plane %d bytes stride %d", len(out[0].Data), out[0].Stride)
	}
	if out[1].Stride != 160 || len(out[1].Data) != 160*90 {
		t.Errorf("U plane %d bytes stride %d", len(out[1].Data), out[1].Stride)
	}

	// A constant-valued source stays constant under bilinear interpolation.
	for i, b := range out[0].Data {
		if b != 100 {
			t.Fatalf("Y[%d] = %d, want 100", i, b)
		}
	}
}

func TestRescaleFilterUpscale(t *testing.T) {
	f := newRescaleFilter(320, 180, 640, 360, ScaleModeStretch)
	out := f.scale(i420Planes(320, 180, 42))
	if len(out[0].Data) != 640*360 {
		t.Errorf("Y plane %d bytes", len(out[0].Data))
	}
	for i, b := range out[0].Data {
		if b != 42 {
			t.Fatalf("Y[%d] = %d, want 42", i, b)
		}
	}
}

func TestRescaleFilterMatches(t *testing.T) {
	f := newRescaleFilter(320, 180, 640, 360, ScaleModeStretch)
	if !f.matches(320, 180, 640, 360) {
		t.Error("matches rejected its own geometry")
	}
	if f.matches(640, 360, 640, 360) {
		t.Error("matches accepted a different source geometry")
	}
}

func TestCalculateScaledSizeFit(t *testing.T) {
	w, h := calculateScaledSize(1920, 1080, 640, 640, ScaleModeFit)
	if w != 640 || h != 360 {
		t.Errorf("fit 16:9 into square = %dx%d, want 640x360", w, h)
	}
	w, h = calculateScaledSize(1920, 1080, 640, 360, ScaleModeStretch)
	if w != 640 || h != 360 {
		t.Errorf("stretch = %dx%d", w, h)
	}
}

package browser

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestOutcomeShapes(t *testing.T) {
	success := Outcome{Screenshot: "aGVsbG8=", URL: "https://example.com"}
	if !success.OK() {
		t.Error("outcome with screenshot must report OK")
	}

	failure := Fail("element not found at (%d, %d)", 10, 20)
	if failure.OK() {
		t.Error("failure outcome must not report OK")
	}
	if failure.Screenshot != "" || failure.URL != "" {
		t.Error("failure outcome must not carry page state")
	}
	if failure.Failure != "element not found at (10, 20)" {
		t.Errorf("failure = %q", failure.Failure)
	}
}

func TestActionKinds(t *testing.T) {
	cases := map[string]Action{
		"navigate":     Navigate{URL: "https://example.com"},
		"click":        Click{Pos: Point{X: 1, Y: 2}},
		"double_click": DoubleClick{},
		"type":         TypeText{Text: "hi"},
		"keypress":     KeyPress{Keys: []string{"return"}},
		"scroll":       Scroll{},
		"move":         Move{},
		"drag":         Drag{},
		"wait":         Wait{},
		"back":         Back{},
		"forward":      Forward{},
		"screenshot":   Screenshot{},
	}
	for want, action := range cases {
		if got := action.Kind(); got != want {
			t.Errorf("Kind() = %q, want %q", got, want)
		}
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestScaleScreenshotDownscales(t *testing.T) {
	data := encodePNG(t, 2000, 1000)

	scaled, err := ScaleScreenshot(data, 1000, 1000)
	if err != nil {
		t.Fatalf("ScaleScreenshot: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(scaled))
	if err != nil {
		t.Fatalf("decode scaled: %v", err)
	}
	if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w != 1000 || h != 500 {
		t.Errorf("scaled to %dx%d, want 1000x500 (aspect preserved)", w, h)
	}
}

func TestScaleScreenshotPassesThroughWithinBounds(t *testing.T) {
	data := encodePNG(t, 640, 480)

	scaled, err := ScaleScreenshot(data, 1280, 800)
	if err != nil {
		t.Fatalf("ScaleScreenshot: %v", err)
	}
	if !bytes.Equal(scaled, data) {
		t.Error("image within bounds must pass through unchanged")
	}
}

func TestScaleScreenshotRejectsGarbage(t *testing.T) {
	if _, err := ScaleScreenshot([]byte("not a png"), 100, 100); err == nil {
		t.Error("expected decode error")
	}
}

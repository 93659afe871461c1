package browser

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// cursorOverlayScript draws a synthetic cursor that follows the mouse, so
// pointer position is visible in screenshots. Injected as an init script on
// every page.
const cursorOverlayScript = `
// Only run in the top frame
if (window.self === window.top) {
    function initCursor() {
        const CURSOR_ID = '__cursor__';
        if (document.getElementById(CURSOR_ID)) return;

        const cursor = document.createElement('div');
        cursor.id = CURSOR_ID;
        Object.assign(cursor.style, {
            position: 'fixed',
            top: '0px',
            left: '0px',
            width: '20px',
            height: '20px',
            backgroundImage: 'url("data:image/svg+xml;utf8,<svg width=\'16\' height=\'16\' viewBox=\'0 0 20 20\' fill=\'black\' outline=\'white\' xmlns=\'http://www.w3.org/2000/svg\'><path d=\'M15.8089 7.22221C15.9333 7.00888 15.9911 6.78221 15.9822 6.54221C15.9733 6.29333 15.8978 6.06667 15.7555 5.86221C15.6133 5.66667 15.4311 5.52445 15.2089 5.43555L1.70222 0.0888888C1.47111 0 1.23555 -0.0222222 0.995555 0.0222222C0.746667 0.0755555 0.537779 0.186667 0.368888 0.355555C0.191111 0.533333 0.0755555 0.746667 0.0222222 0.995555C-0.0222222 1.23555 0 1.47111 0.0888888 1.70222L5.43555 15.2222C5.52445 15.4445 5.66667 15.6267 5.86221 15.7689C6.06667 15.9111 6.28888 15.9867 6.52888 15.9955H6.58221C6.82221 15.9955 7.04445 15.9333 7.24888 15.8089C7.44445 15.6845 7.59555 15.52 7.70221 15.3155L10.2089 10.2222L15.3022 7.70221C15.5155 7.59555 15.6845 7.43555 15.8089 7.22221Z\'></path></svg>")',
            backgroundSize: 'cover',
            pointerEvents: 'none',
            zIndex: '99999',
            transform: 'translate(-2px, -2px)',
        });

        document.body.appendChild(cursor);
        document.addEventListener("mousemove", (e) => {
            cursor.style.top = e.clientY + "px";
            cursor.style.left = e.clientX + "px";
        });
    }

    requestAnimationFrame(function checkBody() {
        if (document.body) {
            initCursor();
        } else {
            requestAnimationFrame(checkBody);
        }
    });
}
`

// sameTabScript rewrites target="_blank" links so navigation stays in the
// tab the agent controls.
const sameTabScript = `
window.addEventListener('load', () => {
    document.querySelectorAll('a[target="_blank"]').forEach(a => a.target = '_self');

    const observer = new MutationObserver((mutations) => {
        mutations.forEach((mutation) => {
            if (mutation.addedNodes) {
                mutation.addedNodes.forEach((node) => {
                    if (node.nodeType === 1) {
                        if (node.tagName === 'A' && node.target === '_blank') {
                            node.target = '_self';
                        }
                        node.querySelectorAll?.('a[target="_blank"]').forEach(a => a.target = '_self');
                    }
                });
            }
        });
    });
    observer.observe(document.body, { childList: true, subtree: true });
});
`

// ScaleScreenshot downscales a PNG so neither dimension exceeds the given
// bounds, preserving aspect ratio. Images already within bounds pass through
// unchanged. Model vision endpoints cap input dimensions, so oversized
// captures are resized before they enter the conversation.
func ScaleScreenshot(data []byte, maxWidth, maxHeight int) ([]byte, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return data, nil
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxWidth && h <= maxHeight {
		return data, nil
	}

	scale := float64(maxWidth) / float64(w)
	if s := float64(maxHeight) / float64(h); s < scale {
		scale = s
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}

package browser

import "strings"

// keyAliases maps the model-facing key vocabulary (xdotool-style names) to
// the W3C key values Playwright and CDP expect. Unknown keys pass through
// unchanged.
var keyAliases = map[string]string{
	"return":    "Enter",
	"enter":     "Enter",
	"tab":       "Tab",
	"backspace": "Backspace",
	"up":        "ArrowUp",
	"down":      "ArrowDown",
	"left":      "ArrowLeft",
	"right":     "ArrowRight",
	"space":     "Space",
	"ctrl":      "Control",
	"control":   "Control",
	"alt":       "Alt",
	"shift":     "Shift",
	"meta":      "Meta",
	"command":   "Meta",
	"windows":   "Meta",
	"esc":       "Escape",
	"escape":    "Escape",

	"kp_0": "Numpad0",
	"kp_1": "Numpad1",
	"kp_2": "Numpad2",
	"kp_3": "Numpad3",
	"kp_4": "Numpad4",
	"kp_5": "Numpad5",
	"kp_6": "Numpad6",
	"kp_7": "Numpad7",
	"kp_8": "Numpad8",
	"kp_9": "Numpad9",

	"kp_enter":    "NumpadEnter",
	"kp_multiply": "NumpadMultiply",
	"kp_add":      "NumpadAdd",
	"kp_subtract": "NumpadSubtract",
	"kp_decimal":  "NumpadDecimal",
	"kp_divide":   "NumpadDivide",

	"page_down": "PageDown",
	"page_up":   "PageUp",
	"home":      "Home",
	"end":       "End",
	"insert":    "Insert",
	"delete":    "Delete",

	"f1":  "F1",
	"f2":  "F2",
	"f3":  "F3",
	"f4":  "F4",
	"f5":  "F5",
	"f6":  "F6",
	"f7":  "F7",
	"f8":  "F8",
	"f9":  "F9",
	"f10": "F10",
	"f11": "F11",
	"f12": "F12",

	"shift_l":   "ShiftLeft",
	"shift_r":   "ShiftRight",
	"control_l": "ControlLeft",
	"control_r": "ControlRight",
	"alt_l":     "AltLeft",
	"alt_r":     "AltRight",

	"audiovolumemute": "AudioVolumeMute",
	"audiovolumedown": "AudioVolumeDown",
	"audiovolumeup":   "AudioVolumeUp",

	"print":       "PrintScreen",
	"scroll_lock": "ScrollLock",
	"pause":       "Pause",
	"menu":        "ContextMenu",

	"/":        "Divide",
	"\\":       "Backslash",
	"capslock": "CapsLock",
	"option":   "Alt",
	"super":    "Meta",
	"win":      "Meta",
}

// TranslateKey maps one model-facing key name to its W3C key value.
func TranslateKey(key string) string {
	if mapped, ok := keyAliases[strings.ToLower(key)]; ok {
		return mapped
	}
	return key
}

// TranslateKeys maps a key sequence, preserving order.
func TranslateKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = TranslateKey(k)
	}
	return out
}

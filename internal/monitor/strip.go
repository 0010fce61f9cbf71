package monitor

import (
	"strings"
)

// StripEscapes removes terminal escape sequences from captured pane content
// using an O(n) single-pass algorithm. Handles CSI sequences (ESC [ ... letter),
// OSC sequences (ESC ] ... BEL or ESC \), 8-bit CSI (0x9B), charset selection
// (ESC ( X and friends), and bare two-byte ESC sequences. All other bytes are
// preserved verbatim, so stripping already-stripped text is a no-op.
//
// NOTE: We intentionally avoid regex here because complex ANSI regex patterns
// can cause catastrophic backtracking on malformed escape sequences.
func StripEscapes(content string) string {
	// Fast path: if no escape chars, return as-is.
	// \x1b is ESC, \x9B is CSI (C1 control character)
	if strings.IndexByte(content, '\x1b') < 0 && strings.IndexByte(content, '\x9B') < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		if content[i] == '\x1b' {
			// CSI sequence: ESC [ ... letter
			if i+1 < len(content) && content[i+1] == '[' {
				j := i + 2
				for j < len(content) {
					c := content[j]
					if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
						j++
						break
					}
					j++
				}
				i = j
				continue
			}
			// OSC sequence: ESC ] ... BEL
			if i+1 < len(content) && content[i+1] == ']' {
				bellPos := strings.Index(content[i:], "\x07")
				if bellPos != -1 {
					i += bellPos + 1
					continue
				}
				// No BEL found - find ST (ESC \) as alternative terminator
				stPos := strings.Index(content[i:], "\x1b\\")
				if stPos != -1 {
					i += stPos + 2
					continue
				}
			}
			// Charset selection: ESC ( X, ESC ) X, ESC * X, ESC + X
			if i+2 < len(content) {
				switch content[i+1] {
				case '(', ')', '*', '+':
					i += 3
					continue
				}
			}
			// Other escape sequence: ESC followed by single char
			if i+1 < len(content) {
				i += 2
				continue
			}
			// Trailing bare ESC
			i++
			continue
		}
		// 8-bit CSI without ESC (0x9B). Only when it starts a sequence of its
		// own: 0x9B is also a UTF-8 continuation byte (U+269B, braille glyphs
		// like U+281B), and those must pass through untouched.
		if content[i] == '\x9B' && (i == 0 || content[i-1] < 0x80) {
			j := i + 1
			for j < len(content) {
				c := content[j]
				if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
					j++
					break
				}
				j++
			}
			i = j
			continue
		}
		b.WriteByte(content[i])
		i++
	}

	return b.String()
}

// TailLines splits content into lines, drops blank and whitespace-only lines,
// and returns the last n lines in their original relative order. Returns fewer
// than n when the content has fewer qualifying lines, nil when it has none.
func TailLines(content string, n int) []string {
	if n <= 0 {
		return nil
	}
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}

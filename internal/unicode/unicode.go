// Package unicode maps codepoints to the 4-key output sequences the
// virtual keyboard emits for characters with no direct key. The sequences
// address a dedicated iso-level3-shift plane; the host layout shipped with
// the daemon decodes them back into characters.
package unicode

import "github.com/keyd-cpp/keyd/internal/keys"

// Highest codepoint with a table entry.
const maxCodepoint = 0x2FFF

// planeKeys are the data keys of the level3 plane, in digit order.
var planeKeys = [16]uint16{
	2, 3, 4, 5, 6, 7, 8, 9, 10, 11, // 1..0
	30, 48, 46, 32, 18, 33, // a b c d e f
}

// LookupIndex returns the table index for a codepoint, or -1 when the
// codepoint has no sequence.
func LookupIndex(r rune) int {
	if r < 0xA0 || r > maxCodepoint {
		return -1
	}
	return int(r)
}

// Sequence writes the 4-key sequence for a table index returned by
// LookupIndex.
func Sequence(idx int, codes *[4]uint16) {
	codes[0] = keys.IsoLevel3Shift
	codes[1] = planeKeys[(idx>>8)&0xf]
	codes[2] = planeKeys[(idx>>4)&0xf]
	codes[3] = planeKeys[idx&0xf]
}

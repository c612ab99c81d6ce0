package config

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
	"github.com/keyd-cpp/keyd/internal/macro"
)

// maxIncludeDepth bounds transitive include expansion.
const maxIncludeDepth = 10

// DataDir is the fallback directory for include resolution.
func DataDir() string {
	if dir := os.Getenv("KEYD_DATA_DIR"); dir != "" {
		return dir
	}
	return "/usr/share/keyd"
}

func resolveIncludePath(path, includePath string) string {
	if strings.HasSuffix(includePath, ".conf") {
		logging.Warnf("%s: included file has invalid extension", includePath)
		return ""
	}

	resolved := filepath.Join(filepath.Dir(path), includePath)
	if _, err := os.Stat(resolved); err == nil {
		return resolved
	}

	return filepath.Join(DataDir(), includePath)
}

// readFileTree reads a config file with include directives expanded.
// Includes resolve against the file's directory and then the data
// directory; expansion stops at depth 10 and cyclic includes are
// reported and skipped.
func readFileTree(path string, depth int, visiting map[string]bool) (string, error) {
	if visiting[path] {
		logging.Warnf("cyclic include detected: %s", path)
		return "", nil
	}
	visiting[path] = true
	defer delete(visiting, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}

	var buf strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "include ") || strings.HasPrefix(line, "include\t") {
			includePath := line[8:]

			resolved := resolveIncludePath(path, includePath)
			if resolved == "" {
				logging.Warnf("failed to resolve include path: %s", includePath)
				continue
			}

			if depth >= maxIncludeDepth {
				logging.Warnf("include depth too big or cyclic: %s", includePath)
				continue
			}

			sub, err := readFileTree(resolved, depth+1, visiting)
			if err != nil {
				logging.Warnf("%v", err)
				continue
			}
			buf.WriteString(sub)
		} else {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}

	return buf.String(), nil
}

// Parse populates the config from a file. The file tree is read once per
// pass; if the content checksum changes between the global/ids/aliases
// pass and the layer pass, the second pass is refused.
func (c *Config) Parse(path string) error {
	c.Path = path
	return c.parseTwoPass(func() (string, error) {
		return readFileTree(path, 0, make(map[string]bool))
	})
}

func (c *Config) parseTwoPass(read func() (string, error)) error {
	content, err := read()
	if err != nil {
		return err
	}
	sum := blake2b.Sum256([]byte(content))

	sections := parseINI(content, "")
	if sections == nil {
		return fmt.Errorf("%s: invalid config", c.Path)
	}
	c.parsePassOne(sections)

	content2, err := read()
	if err != nil {
		return err
	}
	if sum2 := blake2b.Sum256([]byte(content2)); sum2 != sum {
		return fmt.Errorf("%s: content changed between passes, refusing to apply bindings", c.Path)
	}

	c.parsePassTwo(parseINI(content2, ""))
	return nil
}

// parseString runs both passes over in-memory content.
func (c *Config) parseString(content string) error {
	sections := parseINI(content, "")
	if sections == nil {
		return fmt.Errorf("invalid config")
	}
	c.parsePassOne(sections)
	c.parsePassTwo(sections)
	return nil
}

// parsePassOne consumes the global, ids and aliases sections; layers are
// not touched until the second pass.
func (c *Config) parsePassOne(sections []iniSection) {
	for i := range sections {
		section := &sections[i]
		switch section.Name {
		case "ids":
			c.parseIDSection(section)
		case "aliases":
			c.parseAliasSection(section)
		case "global":
			c.parseGlobalSection(section)
		}
	}
}

// parsePassTwo populates each layer.
func (c *Config) parsePassTwo(sections []iniSection) {
	for i := range sections {
		section := &sections[i]
		switch section.Name {
		case "ids", "aliases", "global":
			continue
		}

		name := section.Name
		if j := strings.IndexByte(name, ':'); j >= 0 {
			name = name[:j]
			logging.Warnf("obsolete layer type specifier: %s", section.Name)
		}

		if len(section.Entries) == 0 {
			continue
		}

		// Section-scoped modifiers apply to every binding in the section:
		// a suffix token pre-applies to right-hand sides, a prefix token
		// to left-hand sides.
		c.addRightWildc = 0
		c.addRightMods = 0
		c.addLeftWildc = 0
		c.addLeftMods = 0

		for len(name) >= 2 {
			last := name[len(name)-1]
			pos := strings.IndexByte(keys.ModIDs, last)
			if strings.HasSuffix(name, "**") {
				c.addRightWildc = 0xff
			} else if pos >= 0 && name[len(name)-2] == '*' {
				c.addRightWildc |= 1 << pos
			} else if pos >= 0 && name[len(name)-2] == '-' {
				c.addRightMods |= 1 << pos
			} else {
				break
			}
			name = name[:len(name)-2]
		}

		for len(name) >= 2 {
			pos := strings.IndexByte(keys.ModIDs, name[0])
			if strings.HasPrefix(name, "**") {
				c.addLeftWildc = 0xff
			} else if pos >= 0 && name[1] == '-' {
				c.addLeftMods |= 1 << pos
			} else if pos >= 0 && name[1] == '*' {
				c.addLeftWildc |= 1 << pos
			} else {
				break
			}
			name = name[2:]
		}

		for j := range section.Entries {
			ent := &section.Entries[j]
			if ent.NoVal {
				logging.Warnf("invalid binding on line %d", ent.LNum)
				continue
			}

			if _, err := c.addBinding(name, ent.Key, ent.Val); err != nil {
				logging.Warnf("line %d: %v", ent.LNum, err)
			}
		}
	}

	c.addRightWildc = 0
	c.addRightMods = 0
	c.addLeftWildc = 0
	c.addLeftMods = 0

	for i := range c.Layers {
		c.Layers[i].Keymap.Sort()
	}
}

// addBinding parses and installs one layer binding.
func (c *Config) addBinding(layerName, key, val string) (int, error) {
	idx := c.accessLayer(layerName, false)
	if idx < 0 {
		return -1, fmt.Errorf("%s is not a valid layer", layerName)
	}

	var d Descriptor
	if err := c.parseDescriptor(val, &d); err != nil {
		return -1, err
	}

	if err := c.setLayerEntry(idx, key, &d); err != nil {
		return -1, err
	}
	return idx, nil
}

func (c *Config) parseGlobalSection(section *iniSection) {
	for i := range section.Entries {
		ent := &section.Entries[i]
		switch ent.Key {
		case "macro_timeout":
			c.MacroTimeout = int64(atoi(ent.Val))
		case "macro_sequence_timeout":
			c.MacroSequenceTimeout = int64(atoi(ent.Val))
		case "disable_modifier_guard":
			c.DisableModifierGuard = atoi(ent.Val) != 0
		case "oneshot_timeout":
			c.OneshotTimeout = int64(atoi(ent.Val))
		case "chord_hold_timeout":
			c.ChordHoldTimeout = int64(atoi(ent.Val))
		case "chord_timeout":
			c.ChordInterkeyTimeout = int64(atoi(ent.Val))
		case "default_layout":
			c.DefaultLayout = ent.Val
		case "macro_repeat_timeout":
			c.MacroRepeatTimeout = int64(atoi(ent.Val))
		case "layer_indicator":
			c.LayerIndicator = uint8(atoi(ent.Val))
		case "overload_tap_timeout":
			c.OverloadTapTimeout = int64(atoi(ent.Val))
		default:
			logging.Warnf("line %d: %s is not a valid global option", ent.LNum, ent.Key)
		}
	}
}

// maxDevIDLen bounds stored device id prefixes.
const maxDevIDLen = 20

// parseIDSection reads device id rules. Wildcard entries only set
// capability flags; everything else appends a prefix rule.
func (c *Config) parseIDSection(section *iniSection) {
	for i := range section.Entries {
		ent := &section.Entries[i]
		s := ent.Key

		switch {
		case s == "*":
			logging.Warnf("use k:* to capture keyboards, wildcard compat mode enabled")
			c.Compat = true
			c.Wildcard |= IDKeyboard
			continue
		case strings.HasPrefix(s, "m:*"):
			c.Wildcard |= IDMouse
			continue
		case strings.HasPrefix(s, "k:*"):
			c.Wildcard |= IDKeyboard
			continue
		case strings.HasPrefix(s, "a:*"):
			c.Wildcard |= IDAbsPtr
			continue
		}

		var id DevID
		switch {
		case strings.HasPrefix(s, "m:") && len(s)-2 <= maxDevIDLen:
			id = DevID{Flags: IDMouse, ID: s[2:]}
		case strings.HasPrefix(s, "a:") && len(s)-2 <= maxDevIDLen:
			id = DevID{Flags: IDMouse | IDAbsPtr, ID: s[2:]}
		case strings.HasPrefix(s, "k:") && len(s)-2 <= maxDevIDLen:
			id = DevID{Flags: IDKeyboard, ID: s[2:]}
		case strings.HasPrefix(s, "-") && len(s)-1 <= maxDevIDLen:
			id = DevID{Flags: IDExcluded, ID: s[1:]}
		case len(s) <= maxDevIDLen:
			id = DevID{Flags: IDKeyboard | IDMouse, ID: s}
		default:
			logging.Warnf("%s is not a valid device id", s)
			continue
		}
		c.IDs = append(c.IDs, id)
	}
}

func (c *Config) parseAliasSection(section *iniSection) {
	for i := range section.Entries {
		ent := &section.Entries[i]
		name := ent.Val

		desc := c.lookupKeycode(ent.Key)
		if !desc.Valid() {
			logging.Warnf("failed to define alias %s, %s is not a valid keycode", name, ent.Key)
			continue
		}

		if len(name) == 1 && desc.Mods == 0 && desc.Wildcard == 0 && desc.ID < keys.EntryCount {
			// A single modifier letter assigns the key to that class,
			// removing it from any other class first.
			if id := strings.IndexByte(keys.ModIDs, name[0]); id >= 0 || name == "-" {
				for j := range c.Modifiers {
					c.Modifiers[j] = slices.DeleteFunc(c.Modifiers[j], func(code uint16) bool {
						return code == desc.ID
					})
				}
				if id >= 0 {
					c.Modifiers[id] = append(c.Modifiers[id], desc.ID)
				}
				continue
			}
		}

		if name == "" {
			continue
		}
		alias := c.lookupKeycode(name)
		if alias.Valid() {
			logging.Warnf("alias name represents a valid keycode: %s", name)
			continue
		}
		if alias.Wildcard != 0 {
			logging.Warnf("alias contains wildcard, ignored: %s", name)
		}
		c.Aliases[name] = append(c.Aliases[name], desc)
	}
}

// lookupKeycode resolves a key name (with modifier prefix) to a
// descriptor. Bare modifier class names resolve to pseudo ids above the
// key code space, which setLayerEntry expands to every key of the class.
func (c *Config) lookupKeycode(name string) Descriptor {
	var r Descriptor
	code, mods, wildc, rem := keys.ParseKeySequence(name)
	if rem < 0 {
		return r
	}

	r.Op = OpKeySequence
	r.Args[0] = code
	r.Args[1] = uint16(mods)
	r.Args[2] = uint16(wildc)
	r.Mods = mods
	r.Wildcard = wildc

	if rem > 0 {
		class := -1
		switch name[len(name)-rem:] {
		case "control", "ctrl":
			class = keys.ModCtrl
		case "shift":
			class = keys.ModShift
		case "alt":
			class = keys.ModAlt
		case "altgr":
			class = keys.ModAltGr
		case "meta", "super":
			class = keys.ModSuper
		case "hyper":
			class = keys.ModHyper
		case "level5":
			class = keys.ModLevel5
		case "mod7", "nlock":
			class = keys.ModNLock
		}
		if class < 0 {
			r.Op = OpNull
			return r
		}
		r.ID = keys.EntryCount + uint16(class)
	} else {
		r.ID = code
	}

	if r.ID == 0 {
		r.Op = OpNull
	}
	return r
}

// setKeymapEntry installs a descriptor, expanding modifier-class pseudo
// ids over the class key list.
func (c *Config) setKeymapEntry(layer *Layer, desc Descriptor) {
	if desc.ID >= keys.EntryCount {
		for _, id := range c.Modifiers[desc.ID-keys.EntryCount] {
			desc.ID = id
			layer.Keymap.Set(desc)
		}
	} else {
		layer.Keymap.Set(desc)
	}
}

// setLayerEntry consumes the left-hand side of a binding: a chord key
// list, an alias, or a single key sequence.
func (c *Config) setLayerEntry(idx int, key string, d *Descriptor) error {
	layer := &c.Layers[idx]

	if strings.ContainsRune(key, '+') {
		var chordKeys [MaxChordKeys]uint16
		n := 0

		for _, tok := range strings.Split(key, "+") {
			desc := c.lookupKeycode(tok)
			if !desc.Valid() || desc.Mods != 0 || desc.Wildcard != 0 {
				return fmt.Errorf("%s is not a valid key", tok)
			}

			id := desc.ID
			for i := 0; i < keys.ModMax; i++ {
				if c.IsMod(i, id) {
					return fmt.Errorf("chord key %s is a modifier, did you mean to use %c-key combo?", tok, keys.ModIDs[i])
				}
			}
			if id >= keys.EntryCount {
				return fmt.Errorf("chord key %s is a modifier class", tok)
			}

			if n >= MaxChordKeys {
				return fmt.Errorf("chords cannot contain more than %d keys", MaxChordKeys)
			}
			chordKeys[n] = id
			n++
		}

		if existing := layerLookupChord(layer, chordKeys[:n]); existing != nil {
			*existing = *d
		} else {
			layer.Chords = append(layer.Chords, Chord{Keys: chordKeys, D: *d})
		}
		return nil
	}

	expr := key
	if i := strings.LastIndexAny(expr, "-*"); i >= 0 {
		expr = expr[i+1:]
	}

	if aliased, ok := c.Aliases[expr]; ok {
		aux := c.lookupKeycode(key)
		for _, alias := range aliased {
			if alias.Op != OpKeySequence {
				continue
			}
			desc := *d
			desc.ID = alias.ID
			desc.Mods = aux.Mods | alias.Mods | c.LayerMods(idx) | c.addLeftMods
			desc.Wildcard = aux.Wildcard | alias.Wildcard | c.addLeftWildc
			if c.Compat {
				desc.Wildcard = 0xff
			}
			desc.Wildcard &^= desc.Mods
			c.setKeymapEntry(layer, desc)
		}
		return nil
	}

	desc := c.lookupKeycode(key)
	if !desc.Valid() {
		return fmt.Errorf("%s is not a valid key or alias", key)
	}
	desc.Op = d.Op
	desc.Args = d.Args
	desc.Wildcard |= c.addLeftWildc
	if c.Compat {
		desc.Wildcard = 0xff
	}
	desc.Mods |= c.LayerMods(idx) | c.addLeftMods
	desc.Wildcard &^= desc.Mods
	c.setKeymapEntry(layer, desc)
	return nil
}

// layerLookupChord finds an existing chord covering the given key set.
func layerLookupChord(layer *Layer, chordKeys []uint16) *Descriptor {
	for i := range layer.Chords {
		chord := &layer.Chords[i]
		nm := 0
		for _, k := range chordKeys {
			if slices.Contains(chord.Keys[:], k) {
				nm++
			}
		}
		if nm == len(chordKeys) {
			return &chord.D
		}
	}
	return nil
}

// layerComposition resolves a '+'-separated layer expression to the
// sorted, deduplicated set of simple-layer indices, creating missing
// simple layers on the way.
func (c *Config) layerComposition(str string) ([]uint16, bool) {
	var arr []uint16
	for _, name := range strings.Split(str, "+") {
		if name == "" {
			return nil, false
		}
		if name == c.Layers[0].Name {
			continue
		}

		switch name {
		case "ctrl":
			name = "control"
		case "super":
			name = "meta"
		case "nlock":
			name = "mod7"
		}

		idx := 0
		for i := 1; i <= keys.ModMax; i++ {
			if name == c.Layers[i].Name {
				idx = i
				break
			}
		}
		if idx == 0 {
			if existing, ok := c.simpleIndex[name]; ok {
				idx = existing
			} else {
				if len(c.Layers) > maxTableSize {
					logging.Warnf("max layers exceeded")
					return nil, false
				}
				idx = len(c.Layers)
				c.Layers = append(c.Layers, Layer{Name: name})
				c.simpleIndex[name] = idx
			}
		}
		arr = append(arr, uint16(idx))
	}

	slices.Sort(arr)
	return slices.Compact(arr), true
}

// compositeKey packs a constituent set into an interning key. The leading
// NUL keeps synthesized names disjoint from simple layer names.
func compositeKey(constituents []uint16) string {
	buf := make([]byte, 1+2*len(constituents))
	for i, idx := range constituents {
		binary.LittleEndian.PutUint16(buf[1+2*i:], idx)
	}
	return string(buf)
}

// accessLayer returns the index of a (possibly composite) layer named by
// a section header or layer argument, creating it if needed. Returns -1
// on error.
func (c *Config) accessLayer(name string, singular bool) int {
	if name == "" {
		return -1
	}
	// [+] is a shortcut for [main].
	if strings.Trim(name, "+") == "" {
		return 0
	}

	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}

	comp, ok := c.layerComposition(name)
	if !ok {
		return -1
	}
	switch len(comp) {
	case 0:
		return 0
	case 1:
		return int(comp[0])
	}
	if singular {
		return -1
	}

	key := compositeKey(comp)
	if idx, ok := c.compositeIndex[key]; ok {
		return idx
	}

	if len(c.Layers) > maxTableSize {
		logging.Warnf("max layers exceeded")
		return -1
	}
	idx := len(c.Layers)
	c.Layers = append(c.Layers, Layer{Constituents: comp})
	c.compositeIndex[key] = idx
	return idx
}

// parseFn splits a function expression name(arg, arg, ...) respecting
// nested parentheses and escapes.
func parseFn(s string) (name string, args []string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return "", nil, false
	}
	name = s[:open]

	c := s[open+1:]
	c = strings.TrimLeft(c, " ")

	for {
		plvl := 0
		i := 0
		for i < len(c) {
			switch c[i] {
			case '\\':
				if i+1 < len(c) {
					i += 2
					continue
				}
			case '(':
				plvl++
			case ')':
				plvl--
				if plvl == -1 {
					goto exit
				}
			case ',':
				if plvl == 0 {
					goto exit
				}
			}
			i++
		}
	exit:
		if i == len(c) {
			return "", nil, false
		}

		if i > 0 {
			if len(args) >= 5 {
				return "", nil, false
			}
			args = append(args, c[:i])
		}

		if c[i] == ')' {
			return name, args, true
		}

		c = strings.TrimLeft(c[i+1:], " ")
	}
}

// addMacro interns a compiled macro.
func (c *Config) addMacro(m macro.Macro) (int, error) {
	if len(c.Macros) >= maxTableSize {
		return 0, fmt.Errorf("max macros exceeded")
	}
	c.Macros = append(c.Macros, m)
	return len(c.Macros) - 1, nil
}

// Macro expression outcomes.
const (
	macroOK       = 0
	macroNotMacro = -1
	macroInvalid  = 1
)

// parseMacroExpression tries to compile s as a macro, returning the
// interned reference (with the wildcard flag folded in). state is
// macroNotMacro when s should be retried as a function call.
func (c *Config) parseMacroExpression(s string) (ref uint16, state int, err error) {
	code, mods, wildc, rem := keys.ParseKeySequence(s)
	if rem < 0 {
		return 0, macroNotMacro, nil
	}
	if c.Compat {
		wildc = 0xff
	}
	wildc |= c.addRightWildc

	if rem == 0 {
		// Section modifiers are not active inside the macro itself.
		mods |= c.addRightMods
		wildc |= mods
		idx, err := c.addMacro(macro.Macro{{Kind: macro.KeySeq, Code: code, Mods: mods, Wildcard: wildc}})
		if err != nil {
			return 0, macroInvalid, err
		}
		return macroRef(idx, wildc), macroOK, nil
	}

	if rem < len(s) && wildc != 0xff {
		return 0, macroInvalid, fmt.Errorf("invalid macro prefix (only ** is supported): %s", s)
	}
	s = s[len(s)-rem:]

	body := s
	switch {
	case strings.HasPrefix(s, "macro(") && strings.HasSuffix(s, ")"):
		body = s[6 : len(s)-1]
	case strings.HasSuffix(s, ")") && prefixedAny(s, "type(", "text(", "t(", "txt("):
		// Pass to the macro compiler as is.
	case strings.HasSuffix(s, ")") && prefixedAny(s, "cmd(", "command("):
		// Same.
	case utf8.RuneCountInString(s) != 1:
		return 0, macroNotMacro, fmt.Errorf("invalid macro: %s", s)
	default:
		logging.Warnf("naked unicode is deprecated, use type(): %s", s)
	}

	m, err := macro.Parse(body, c)
	if err != nil {
		return 0, macroInvalid, err
	}
	idx, err := c.addMacro(m)
	if err != nil {
		return 0, macroInvalid, err
	}
	return macroRef(idx, wildc), macroOK, nil
}

func macroRef(idx int, wildc uint8) uint16 {
	ref := uint16(idx)
	if wildc != 0 {
		ref |= MacroWildcardBit
	}
	return ref
}

func prefixedAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// action describes one entry of the function table.
type action struct {
	name          string
	preferredName string
	op            Op
	args          [MaxDescriptorArgs]argKind
}

var actions = []action{
	{"swap", "", OpSwap, [3]argKind{argLayer}},
	{"clear", "", OpClear, [3]argKind{}},
	{"oneshot", "", OpOneshot, [3]argKind{argLayer}},
	{"toggle", "", OpToggle, [3]argKind{argLayer}},

	{"clearm", "", OpClearM, [3]argKind{argMacro}},
	{"swapm", "", OpSwapM, [3]argKind{argLayer, argMacro}},
	{"togglem", "", OpToggleM, [3]argKind{argLayer, argMacro}},
	{"layerm", "", OpLayerM, [3]argKind{argLayer, argMacro}},
	{"oneshotm", "", OpOneshotM, [3]argKind{argLayer, argMacro}},
	{"overloadm", "", OpOverloadM, [3]argKind{argLayer, argMacro, argDescriptor}},

	{"layer", "", OpLayer, [3]argKind{argLayer}},

	{"overload", "", OpOverload, [3]argKind{argLayer, argDescriptor}},
	{"overloadt", "", OpOverloadTimeout, [3]argKind{argLayer, argDescriptor, argTimeout}},
	{"overloadt2", "", OpOverloadTimeoutTap, [3]argKind{argLayer, argDescriptor, argTimeout}},

	{"overloadi", "", OpOverloadIdleTimeout, [3]argKind{argDescriptor, argDescriptor, argTimeout}},
	{"timeout", "", OpTimeout, [3]argKind{argDescriptor, argTimeout, argDescriptor}},

	{"macro2", "", OpMacro2, [3]argKind{argTimeout, argTimeout, argMacro}},
	{"setlayout", "", OpLayout, [3]argKind{argLayout}},

	{"scrollt", "", OpScrollToggle, [3]argKind{argSensitivity}},
	{"scroll", "", OpScroll, [3]argKind{argSensitivity}},

	{"overload2", "overloadt", OpOverloadTimeout, [3]argKind{argLayer, argDescriptor, argTimeout}},
	{"overload3", "overloadt2", OpOverloadTimeoutTap, [3]argKind{argLayer, argDescriptor, argTimeout}},
	{"toggle2", "togglem", OpToggleM, [3]argKind{argLayer, argMacro}},
	{"swap2", "swapm", OpSwapM, [3]argKind{argLayer, argMacro}},
}

// parseDescriptor compiles a right-hand-side expression: a bare key
// sequence, a macro expression, or an action function call.
func (c *Config) parseDescriptor(s string, d *Descriptor) error {
	if s == "" {
		d.Op = OpNull
		return nil
	}

	if code, mods, wildc, rem := keys.ParseKeySequence(s); rem == 0 {
		if c.Compat {
			wildc = 0xff
		}
		d.Op = OpKeySequence
		d.Args[0] = code
		d.Args[1] = uint16(mods | c.addRightMods)
		d.Args[2] = uint16(wildc | c.addRightWildc)
		return nil
	}

	ref, state, err := c.parseMacroExpression(s)
	switch state {
	case macroOK:
		d.Op = OpMacro
		d.Args[0] = ref
		return nil
	case macroInvalid:
		return err
	}

	fn, args, ok := parseFn(s)
	if !ok {
		return fmt.Errorf("invalid key or action: %s", s)
	}

	if fn == "lettermod" {
		if len(args) != 4 {
			return fmt.Errorf("lettermod requires 4 arguments")
		}
		rewritten := fmt.Sprintf("overloadi(%s, overloadt2(%s, %s, %s), %s)",
			args[1], args[0], args[1], args[3], args[2])
		if fn, args, ok = parseFn(rewritten); !ok {
			return fmt.Errorf("failed to parse %s", rewritten)
		}
	}

	for i := range actions {
		if actions[i].name != fn {
			continue
		}

		if actions[i].preferredName != "" {
			logging.Warnf("%s is deprecated (renamed to %s)", actions[i].name, actions[i].preferredName)
		}

		d.Op = actions[i].op

		arity := 0
		for arity < MaxDescriptorArgs && actions[i].args[arity] != argEmpty {
			arity++
		}
		if len(args) != arity {
			plural := "arguments"
			if arity == 1 {
				plural = "argument"
			}
			return fmt.Errorf("%s requires %d %s", actions[i].name, arity, plural)
		}

		for j := 0; j < arity; j++ {
			argstr := args[j]
			switch actions[i].args[j] {
			case argLayer:
				switch {
				case argstr == "+" || argstr == "**":
					d.SetIdx(j, 0)
				case argstr == "-":
					d.SetIdx(j, NoLayer)
				default:
					name := argstr
					negate := false
					if strings.HasPrefix(name, "-") && len(name) > 1 {
						name = name[1:]
						negate = true
					}
					idx := c.accessLayer(name, false)
					if idx <= 0 {
						return fmt.Errorf("%s layer cannot be used", argstr)
					}
					if negate {
						idx = -idx
					}
					d.SetIdx(j, int16(idx))
				}
			case argLayout:
				idx := c.accessLayer(argstr, true)
				if idx == -1 {
					return fmt.Errorf("%s layout cannot be used", argstr)
				}
				d.SetIdx(j, int16(idx))
			case argDescriptor:
				var desc Descriptor
				if err := c.parseDescriptor(argstr, &desc); err != nil {
					return err
				}
				if len(c.Descriptors) >= maxTableSize {
					return fmt.Errorf("maximum descriptors exceeded")
				}
				d.Args[j] = uint16(len(c.Descriptors))
				c.Descriptors = append(c.Descriptors, desc)
			case argSensitivity:
				d.SetIdx(j, int16(atoi(argstr)))
			case argTimeout:
				d.Args[j] = uint16(atoi(argstr))
			case argMacro:
				ref, state, err := c.parseMacroExpression(argstr)
				if state != macroOK {
					if err == nil {
						err = fmt.Errorf("invalid macro: %s", argstr)
					}
					return err
				}
				d.Args[j] = ref
			}
		}

		return nil
	}

	return fmt.Errorf("invalid key or action: %s", s)
}

// atoi reads a leading decimal integer, tolerating trailing garbage.
func atoi(s string) int {
	n := 0
	neg := false
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		return -n
	}
	return n
}

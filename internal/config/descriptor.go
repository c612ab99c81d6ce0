package config

import (
	"math"
	"math/bits"
	"sort"
)

// Op identifies the action a descriptor performs.
type Op int8

const (
	OpNull Op = iota
	OpKeySequence

	OpOneshot
	OpOneshotM
	OpLayerM
	OpSwap
	OpSwapM
	OpLayer
	OpLayout
	OpClear
	OpClearM
	OpOverload
	OpOverloadTimeout
	OpOverloadTimeoutTap
	OpOverloadIdleTimeout
	OpToggle
	OpToggleM
	OpOverloadM

	OpMacro
	OpMacro2
	OpTimeout

	OpScrollToggle
	OpScroll
)

// MaxDescriptorArgs is the argument arity bound shared by every op.
const MaxDescriptorArgs = 3

// NoLayer is the layer-argument sentinel for "no layer".
const NoLayer = math.MinInt16

// MacroWildcardBit flags a stored macro index whose expression carried a
// wildcard, which changes mod-clearing during execution.
const MacroWildcardBit = 0x8000

// Descriptor describes the intended purpose of a key: the trigger it is
// keyed on, the modifier guard, and up to three op-specific arguments.
// Arguments hold codes, layer indices, macro indices, timeouts or scroll
// sensitivities depending on the op; signed values are accessed through
// Idx/SetIdx.
type Descriptor struct {
	Op       Op
	ID       uint16
	Mods     uint8
	Wildcard uint8
	Args     [MaxDescriptorArgs]uint16
}

// Idx reads argument i as a signed layer index.
func (d *Descriptor) Idx(i int) int16 { return int16(d.Args[i]) }

// SetIdx stores a signed layer index into argument i.
func (d *Descriptor) SetIdx(i int, v int16) { d.Args[i] = uint16(v) }

// Valid reports whether the descriptor is bound (the zero descriptor is
// the "unmapped" sentinel).
func (d *Descriptor) Valid() bool { return d.Op != OpNull }

// Equal is shallow descriptor equality: op and match key only.
func (d *Descriptor) Equal(o *Descriptor) bool {
	return d.Op == o.Op && d.ID == o.ID && d.Mods == o.Mods && d.Wildcard == o.Wildcard
}

// sameKey reports whether two descriptors bind the same trigger.
func sameKey(a, b *Descriptor) bool {
	return a.ID == b.ID && a.Mods == b.Mods && a.Wildcard == b.Wildcard
}

// argKind describes a descriptor argument for deep comparison and the
// action-table parser.
type argKind int8

const (
	argEmpty argKind = iota
	argMacro
	argLayer
	argLayout
	argTimeout
	argSensitivity
	argDescriptor
)

// opArgs gives the argument layout per op. Ops absent from the table take
// no arguments that need walking.
var opArgs = map[Op][MaxDescriptorArgs]argKind{
	OpKeySequence:         {argEmpty, argEmpty, argEmpty},
	OpOneshot:             {argLayer},
	OpOneshotM:            {argLayer, argMacro},
	OpLayer:               {argLayer},
	OpLayerM:              {argLayer, argMacro},
	OpSwap:                {argLayer},
	OpSwapM:               {argLayer, argMacro},
	OpLayout:              {argLayout},
	OpClearM:              {argMacro},
	OpOverload:            {argLayer, argDescriptor},
	OpOverloadM:           {argLayer, argMacro, argDescriptor},
	OpOverloadTimeout:     {argLayer, argDescriptor, argTimeout},
	OpOverloadTimeoutTap:  {argLayer, argDescriptor, argTimeout},
	OpOverloadIdleTimeout: {argDescriptor, argDescriptor, argTimeout},
	OpToggle:              {argLayer},
	OpToggleM:             {argLayer, argMacro},
	OpMacro:               {argMacro},
	OpMacro2:              {argTimeout, argTimeout, argMacro},
	OpTimeout:             {argDescriptor, argTimeout, argDescriptor},
	OpScroll:              {argSensitivity},
	OpScrollToggle:        {argSensitivity},
}

// DeepEqual walks the op-specific arguments, following macro and
// descriptor references through the config tables.
func (d *Descriptor) DeepEqual(cfg *Config, o *Descriptor) bool {
	if !d.Equal(o) {
		return false
	}
	kinds, ok := opArgs[d.Op]
	if !ok {
		return true
	}
	if d.Op == OpKeySequence {
		return d.Args == o.Args
	}
	for i, kind := range kinds {
		switch kind {
		case argEmpty:
			return true
		case argMacro:
			if !cfg.macroEqual(d.Args[i], o.Args[i]) {
				return false
			}
		case argDescriptor:
			a, b := int(d.Args[i]), int(o.Args[i])
			if a == b {
				continue
			}
			if a >= len(cfg.Descriptors) || b >= len(cfg.Descriptors) {
				return false
			}
			da, db := cfg.Descriptors[a], cfg.Descriptors[b]
			if !da.DeepEqual(cfg, &db) {
				return false
			}
		default:
			if d.Args[i] != o.Args[i] {
				return false
			}
		}
	}
	return true
}

// less is the keymap sort order: trigger code first, then increasing
// modifier specificity, then increasing wildcard breadth.
func (d *Descriptor) less(b *Descriptor) bool {
	if d.ID != b.ID {
		return d.ID < b.ID
	}
	if d.Mods != b.Mods {
		ap, bp := bits.OnesCount8(d.Mods), bits.OnesCount8(b.Mods)
		if ap != bp {
			return ap < bp
		}
		return d.Mods < b.Mods
	}
	ap, bp := bits.OnesCount8(d.Wildcard), bits.OnesCount8(b.Wildcard)
	if ap != bp {
		return ap < bp
	}
	return d.Wildcard < b.Wildcard
}

// DescriptorMap is a layer keymap: a flat descriptor vector with deferred
// sorting. Lookup narrows to the trigger code range, preferring an exact
// modifier match over a wildcard-covered one.
type DescriptorMap struct {
	mapv []Descriptor
}

// Sort orders the map for binary search.
func (m *DescriptorMap) Sort() {
	sort.Slice(m.mapv, func(i, j int) bool {
		return m.mapv[i].less(&m.mapv[j])
	})
}

// Set inserts or replaces the binding for the descriptor's trigger.
func (m *DescriptorMap) Set(d Descriptor) {
	for i := range m.mapv {
		if sameKey(&m.mapv[i], &d) {
			m.mapv[i] = d
			return
		}
	}
	if !d.Valid() {
		return
	}
	m.mapv = append(m.mapv, d)
}

// Get resolves a probe descriptor against the map. The probe carries the
// trigger code and the current modifier mask.
func (m *DescriptorMap) Get(probe *Descriptor) (Descriptor, bool) {
	begin := sort.Search(len(m.mapv), func(i int) bool {
		return m.mapv[i].ID >= probe.ID
	})
	end := begin
	for end < len(m.mapv) && m.mapv[end].ID == probe.ID {
		end++
	}

	for i := begin; i < end; i++ {
		if m.mapv[i].Wildcard == 0 && m.mapv[i].Mods == probe.Mods {
			return m.mapv[i], true
		}
	}

	for i := begin; i < end; i++ {
		cover := m.mapv[i].Wildcard | m.mapv[i].Mods
		if m.mapv[i].Wildcard != 0 && cover&probe.Mods == probe.Mods {
			return m.mapv[i], true
		}
	}

	return Descriptor{}, false
}

// Len returns the number of bindings.
func (m *DescriptorMap) Len() int { return len(m.mapv) }

// Clear drops all bindings.
func (m *DescriptorMap) Clear() { m.mapv = m.mapv[:0] }

// Clone deep-copies the map.
func (m *DescriptorMap) Clone() DescriptorMap {
	return DescriptorMap{mapv: append([]Descriptor(nil), m.mapv...)}
}

// EqualTo reports bitwise keymap equality.
func (m *DescriptorMap) EqualTo(o *DescriptorMap) bool {
	if len(m.mapv) != len(o.mapv) {
		return false
	}
	for i := range m.mapv {
		if m.mapv[i] != o.mapv[i] {
			return false
		}
	}
	return true
}

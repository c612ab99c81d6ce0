// Package config implements the layered keymap model and its parser:
// layers, descriptors, chords, macros, aliases, composite layers, device
// id rules and global options, compiled from the INI-style config dialect
// into flat index-addressed tables.
package config

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
	"github.com/keyd-cpp/keyd/internal/macro"
)

// Table bounds. Descriptor arguments store indices in 15 bits.
const maxTableSize = math.MaxInt16

// Config owns every table a keyboard engine resolves against. Layers
// reference descriptors, macros and commands by index into the config's
// vectors; nothing is shared by pointer except the environment snapshot.
type Config struct {
	Path string

	Layers      []Layer
	Descriptors []Descriptor
	Macros      []macro.Macro
	Commands    []macro.Cmd
	Aliases     map[string][]Descriptor

	// Modifiers maps each modifier class to the physical key codes that
	// count as that class. Index 0 of each list is the canonical key.
	Modifiers [keys.ModMax][]uint16

	Env    *macro.EnvPack
	UseUID uint32
	UseGID uint32

	IDs []DevID

	MacroTimeout         int64
	MacroSequenceTimeout int64
	MacroRepeatTimeout   int64
	OneshotTimeout       int64
	OverloadTapTimeout   int64
	ChordInterkeyTimeout int64
	ChordHoldTimeout     int64

	Wildcard             uint8
	LayerIndicator       uint8
	DisableModifierGuard bool
	Compat               bool
	DefaultLayout        string

	// Composite layers are interned by their packed constituent sets; a
	// leading NUL distinguishes the synthesized keys from simple names.
	simpleIndex    map[string]int
	compositeIndex map[string]int

	// Section-scoped modifier state, live during parsing only.
	addLeftMods   uint8
	addLeftWildc  uint8
	addRightMods  uint8
	addRightWildc uint8

	finalized bool
}

const defaultAliases = "[aliases]\n" +
	"leftshift = S\n" +
	"rightshift = S\n" +
	"leftalt = A\n" +
	"rightalt = G\n" +
	"leftmeta = M\n" +
	"rightmeta = M\n" +
	"leftctrl = C\n" +
	"rightctrl = C\n"

// New returns a config populated with the reserved layers, the default
// modifier aliases and the default timing options.
func New() *Config {
	c := &Config{
		Aliases:        make(map[string][]Descriptor),
		simpleIndex:    make(map[string]int),
		compositeIndex: make(map[string]int),
		LayerIndicator: 255,
	}

	// Layer 0 is main; 1..8 shadow the modifier classes in fixed order.
	for _, name := range []string{
		"main", "alt", "meta", "shift", "control", "altgr", "hyper", "level5", "mod7",
	} {
		c.Layers = append(c.Layers, Layer{Name: name})
	}

	c.parseString(defaultAliases)

	c.ChordInterkeyTimeout = 50
	c.ChordHoldTimeout = 0
	c.OneshotTimeout = 0
	c.MacroTimeout = 600
	c.MacroRepeatTimeout = 50

	return c
}

// IsMod reports whether code belongs to the given modifier class.
func (c *Config) IsMod(class int, code uint16) bool {
	return slices.Contains(c.Modifiers[class], code)
}

// WhatMods returns the mask of classes code belongs to.
func (c *Config) WhatMods(code uint16) uint8 {
	var mods uint8
	for i := 0; i < keys.ModMax; i++ {
		if c.IsMod(i, code) {
			mods |= 1 << i
		}
	}
	return mods
}

// ModifierKey returns the canonical key for a modifier class. Implements
// macro.ExecEnv.
func (c *Config) ModifierKey(class int) (uint16, bool) {
	if len(c.Modifiers[class]) == 0 {
		return 0, false
	}
	return c.Modifiers[class][0], true
}

// Command returns the interned command at idx. Implements macro.ExecEnv.
func (c *Config) Command(idx int) *macro.Cmd {
	if idx < 0 || idx >= len(c.Commands) {
		return nil
	}
	return &c.Commands[idx]
}

// AddCommand interns a shell command under the config's captured
// credentials. Implements macro.CommandRegistry.
func (c *Config) AddCommand(cmd string) (int, error) {
	if len(c.Commands) >= maxTableSize {
		return 0, fmt.Errorf("max commands exceeded")
	}
	c.Commands = append(c.Commands, macro.Cmd{
		Cmd: cmd,
		UID: c.UseUID,
		GID: c.UseGID,
		Env: c.Env,
	})
	return len(c.Commands) - 1, nil
}

// LayerMods returns the modifier mask a layer carries: modifier-class
// layers map to their class bit, composites to the union of constituents.
func (c *Config) LayerMods(idx int) uint8 {
	layer := &c.Layers[idx]
	if !layer.IsComposite() {
		if idx >= 1 && idx <= keys.ModMax {
			return 1 << (idx - 1)
		}
		return 0
	}
	var r uint8
	for _, i := range layer.Constituents {
		if i >= 1 && i <= keys.ModMax {
			r |= 1 << (i - 1)
		}
	}
	return r
}

// macroEqual compares two stored macro references (wildcard flag masked).
func (c *Config) macroEqual(a, b uint16) bool {
	ai, bi := int(a&^MacroWildcardBit), int(b&^MacroWildcardBit)
	if ai == bi {
		return true
	}
	if ai >= len(c.Macros) || bi >= len(c.Macros) {
		return false
	}
	return slices.Equal(c.Macros[ai], c.Macros[bi])
}

// Finalized reports whether the keymaps have been sorted for lookup.
func (c *Config) Finalized() bool { return c.finalized }

// Finalize sorts every keymap for binary search and flags layers that can
// never activate.
func (c *Config) Finalize() {
	for i := range c.Layers {
		c.Layers[i].Keymap.Sort()
	}

	for i := keys.ModMax + 1; i < len(c.Layers); i++ {
		layer := &c.Layers[i]
		if !layer.IsComposite() && layer.Keymap.Len() == 0 && len(layer.Chords) == 0 {
			logging.Warnf("%s: layer %s is empty", c.Path, layer.Name)
		}
	}

	c.finalized = true
}

// CheckMatch ranks a device identifier against the config's id rules:
// 2 for an explicit id match, 1 for a capability wildcard, 0 for none or
// exclusion.
func (c *Config) CheckMatch(id string, flags uint8) int {
	for i := range c.IDs {
		// Prefix match to allow matching <vendor>:<product> for backward
		// compatibility.
		if !strings.HasPrefix(id, c.IDs[i].ID) {
			continue
		}
		if c.IDs[i].Flags&IDExcluded != 0 {
			return 0
		}
		if c.IDs[i].Flags&flags != 0 {
			if flags&IDAbsPtr != 0 && c.IDs[i].Flags&IDAbsPtr == 0 {
				continue
			}
			return 2
		}
	}

	if c.Wildcard&IDKeyboard != 0 && flags&IDKeyboard != 0 {
		return 1
	}
	if c.Wildcard&IDMouse != 0 && flags&IDMouse != 0 && flags&IDAbsPtr == 0 {
		return 1
	}
	if c.Wildcard&IDAbsPtr != 0 && flags&IDAbsPtr != 0 {
		return 1
	}

	return 0
}

// AddEntry adds a binding of the form [<layer>.]<key> = <descriptor
// expression> and returns the index of the layer it modified.
func (c *Config) AddEntry(exp string) (int, error) {
	layerName := c.Layers[0].Name

	dot := strings.IndexByte(exp, '.')
	paren := strings.IndexByte(exp, '(')
	if dot > 0 && (paren < 0 || dot < paren) {
		layerName = exp[:dot]
		exp = exp[dot+1:]
	}

	key, val, ok := parseKVP(exp)
	if !ok {
		return -1, fmt.Errorf("invalid binding: %s", exp)
	}

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

// Backup captures everything AddEntry can touch: the append-only table
// sizes and deep copies of the per-layer keymaps and chords.
type Backup struct {
	descriptorCount int
	macroCount      int
	cmdCount        int
	layerCount      int
	layers          []layerBackup
	modifiers       [keys.ModMax][]uint16
	env             *macro.EnvPack
}

type layerBackup struct {
	keymap DescriptorMap
	chords []Chord
}

// NewBackup snapshots the config.
func NewBackup(c *Config) *Backup {
	b := &Backup{
		descriptorCount: len(c.Descriptors),
		macroCount:      len(c.Macros),
		cmdCount:        len(c.Commands),
		layerCount:      len(c.Layers),
		layers:          make([]layerBackup, len(c.Layers)),
		env:             c.Env,
	}
	for i := range c.Layers {
		b.layers[i] = layerBackup{
			keymap: c.Layers[i].Keymap.Clone(),
			chords: append([]Chord(nil), c.Layers[i].Chords...),
		}
	}
	for i := range c.Modifiers {
		b.modifiers[i] = append([]uint16(nil), c.Modifiers[i]...)
	}
	return b
}

// Restore reverts the config to the snapshot.
func (b *Backup) Restore(c *Config) {
	for i := range b.layers {
		c.Layers[i].Keymap = b.layers[i].keymap.Clone()
		c.Layers[i].Chords = append([]Chord(nil), b.layers[i].chords...)
	}
	c.Layers = c.Layers[:b.layerCount]
	c.Descriptors = c.Descriptors[:b.descriptorCount]
	c.Macros = c.Macros[:b.macroCount]
	c.Commands = c.Commands[:b.cmdCount]
	for i := range b.modifiers {
		c.Modifiers[i] = append([]uint16(nil), b.modifiers[i]...)
	}
	c.Env = b.env

	for name, idx := range c.simpleIndex {
		if idx >= b.layerCount {
			delete(c.simpleIndex, name)
		}
	}
	for key, idx := range c.compositeIndex {
		if idx >= b.layerCount {
			delete(c.compositeIndex, key)
		}
	}
}

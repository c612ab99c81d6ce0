//go:build linux

// Package daemon wires the pieces together: it owns the device table, the
// per-config engines, the virtual output pair, the IPC server and the
// single event-loop goroutine that serializes all state mutation.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keyd-cpp/keyd/internal/config"
	"github.com/keyd-cpp/keyd/internal/device"
	"github.com/keyd-cpp/keyd/internal/ipc"
	"github.com/keyd-cpp/keyd/internal/keyboard"
	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
	"github.com/keyd-cpp/keyd/internal/macro"
	"github.com/keyd-cpp/keyd/internal/vkbd"
)

const (
	maxDevices   = 128
	maxListeners = 32

	// Slow layer-listen clients get this long to relieve back pressure
	// before being dropped.
	listenerSendTimeout = 50 * time.Millisecond
)

// ConfigDir returns the directory scanned for *.conf files.
func ConfigDir() string {
	if dir := os.Getenv("KEYD_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/keyd"
}

type managedDevice struct {
	dev *device.Device
	kbd *keyboard.Keyboard
}

// Daemon owns all process-wide state, threaded through the event loop.
type Daemon struct {
	out     vkbd.Vkbd
	server  *ipc.Server
	monitor *device.Monitor

	configs   []*keyboard.Keyboard
	devices   []*managedDevice
	listeners []*listener

	activeKbd *keyboard.Keyboard

	// Output key state mirrored for clearing the virtual keyboard.
	keystate [keys.EntryCount]bool

	events chan loopEvent

	start time.Time

	panicKeys struct {
		enter     bool
		backspace bool
		escape    bool
	}
}

// New initializes the daemon. Failure to create the IPC socket or the
// uinput devices is fatal by design.
func New() (*Daemon, error) {
	server, err := ipc.NewServer()
	if err != nil {
		return nil, fmt.Errorf("failed to create socket (another instance already running?): %w", err)
	}

	out, err := vkbd.Open()
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to create virtual devices: %w", err)
	}

	monitor, err := device.NewMonitor()
	if err != nil {
		out.Close()
		server.Close()
		return nil, err
	}

	d := &Daemon{
		out:     out,
		server:  server,
		monitor: monitor,
		events:  make(chan loopEvent, 64),
		start:   time.Now(),
	}
	return d, nil
}

func (d *Daemon) now() int64 {
	return time.Since(d.start).Milliseconds()
}

// sendKey is the engine output sink: it mirrors output state and forwards
// to the virtual devices.
func (d *Daemon) sendKey(code uint16, pressed bool) {
	if int(code) < len(d.keystate) {
		d.keystate[code] = pressed
	}
	d.out.SendKey(code, pressed)
}

// clearVkbd releases anything the virtual keyboard is holding down.
func (d *Daemon) clearVkbd() {
	for code := range d.keystate {
		if d.keystate[code] {
			d.keystate[code] = false
			d.out.SendKey(uint16(code), false)
		}
	}
	d.out.Flush()
}

// loadConfigs parses every *.conf under the config directory into an
// engine.
func (d *Daemon) loadConfigs() {
	dir := ConfigDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Error("failed to open config directory", "dir", dir, "error", err)
		return
	}

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasSuffix(name, ".conf") || strings.HasSuffix(name, ".old.conf") {
			continue
		}
		path := filepath.Join(dir, name)
		logging.Info("parsing config", "path", path)

		cfg := config.New()
		if err := cfg.Parse(path); err != nil {
			logging.Warn("failed to parse config", "path", path, "error", err)
			continue
		}
		cfg.Finalize()

		kbd := keyboard.New(cfg, keyboard.Output{
			SendKey:       d.sendKey,
			OnLayerChange: d.onLayerChange,
		})
		d.configs = append(d.configs, kbd)
	}
}

// lookupConfig ranks configs against a device identifier; an explicit id
// match beats a capability wildcard.
func (d *Daemon) lookupConfig(id string, flags uint8) *keyboard.Keyboard {
	var match *keyboard.Keyboard
	rank := 0
	for _, kbd := range d.configs {
		if r := kbd.Config.CheckMatch(id, flags); r > rank {
			match = kbd
			rank = r
		}
	}
	return match
}

func idFlags(caps uint8) uint8 {
	var flags uint8
	if caps&device.CapKeyboard != 0 {
		flags |= config.IDKeyboard
	}
	if caps&(device.CapMouse|device.CapMouseAbs) != 0 {
		flags |= config.IDMouse
	}
	if caps&device.CapMouseAbs != 0 {
		flags |= config.IDAbsPtr
	}
	return flags
}

// manageDevice matches a device against the loaded configs and grabs or
// releases it accordingly.
func (d *Daemon) manageDevice(md *managedDevice) {
	if md.dev.IsVirtual {
		return
	}

	kbd := d.lookupConfig(md.dev.ID, idFlags(md.dev.Capabilities))
	if kbd == nil {
		md.kbd = nil
		md.dev.Ungrab()
		logging.Info("ignoring device", "id", md.dev.ID, "name", md.dev.Name)
		return
	}

	if err := md.dev.Grab(); err != nil {
		logging.Warn("failed to grab device", "num", md.dev.Num, "error", err)
		md.kbd = nil
		return
	}

	logging.Info("device matched", "id", md.dev.ID, "config", kbd.Config.Path, "name", md.dev.Name)
	md.kbd = kbd
	if md.dev.Capabilities&device.CapLeds != 0 {
		md.dev.SetLed(kbd.Config.LayerIndicator, false)
	}
}

// reload rebuilds every per-device config and reapplies user bindings.
func (d *Daemon) reload(env *macro.EnvPack) {
	for _, md := range d.devices {
		if md.kbd != nil {
			if led := md.kbd.Config.LayerIndicator; int(led) < 16 {
				md.dev.LedState[led] = false
				md.dev.SetLed(led, false)
			}
		}
	}

	d.configs = nil
	d.activeKbd = nil
	d.loadConfigs()

	for _, md := range d.devices {
		d.manageDevice(md)
	}

	d.clearVkbd()

	if env != nil && env.UID >= 1000 {
		// Load user bindings, which may be absent when running as root.
		const name = "keyd/bindings.conf"
		var path string
		if v := env.Getenv("XDG_CONFIG_HOME"); v != "" {
			path = filepath.Join(v, name)
		} else if v := env.Getenv("HOME"); v != "" {
			path = filepath.Join(v, ".config", name)
		} else {
			path = name
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logging.Info("no user bindings", "path", path)
			return
		}

		for _, kbd := range d.configs {
			kbd.Config.Env = env
			kbd.Config.UseUID = env.UID
			kbd.Config.UseGID = env.GID
			for _, line := range strings.Split(string(data), "\n") {
				if line == "" || line == "reset" {
					continue
				}
				if !kbd.Eval(line) {
					logging.Warn("invalid binding", "binding", line)
				}
			}
			kbd.UpdateLayerState()
		}
	}
}

// activateLeds refreshes the layer-indicator LED on every device mapped
// to the given engine.
func (d *Daemon) activateLeds(kbd *keyboard.Keyboard) {
	ind := kbd.Config.LayerIndicator
	if int(ind) >= 16 {
		return
	}

	activeLayers := false
	for i := 1; i < len(kbd.Config.Layers); i++ {
		if i != kbd.Layout() && kbd.LayerActive(i) {
			activeLayers = true
			break
		}
	}

	for _, md := range d.devices {
		if md.kbd == kbd && md.dev.Capabilities&device.CapLeds != 0 {
			if md.dev.LedState[ind] == activeLayers {
				continue
			}
			md.dev.LedState[ind] = activeLayers
			md.dev.SetLed(ind, activeLayers)
		}
	}
}

// cleanup restores devices on exit.
func (d *Daemon) cleanup() {
	for _, md := range d.devices {
		if md.kbd != nil {
			if led := md.kbd.Config.LayerIndicator; int(led) < 16 {
				md.dev.LedState[led] = false
			}
		}
		md.dev.Ungrab()
		md.dev.Close()
	}
	d.clearVkbd()
	d.out.Close()
	d.monitor.Close()
	d.server.Close()
}

// panicCheck terminates the daemon when backspace, enter and escape are
// held simultaneously on the input side.
func (d *Daemon) panicCheck(code uint16, pressed bool) {
	switch code {
	case keys.KeyEnter:
		d.panicKeys.enter = pressed
	case keys.KeyBackspace:
		d.panicKeys.backspace = pressed
	case keys.KeyEsc:
		d.panicKeys.escape = pressed
	}

	if d.panicKeys.enter && d.panicKeys.backspace && d.panicKeys.escape {
		logging.Error("panic sequence detected")
		d.cleanup()
		os.Exit(1)
	}
}

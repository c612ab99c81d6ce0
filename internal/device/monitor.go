//go:build linux

package device

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keyd-cpp/keyd/internal/logging"
)

// Monitor watches /dev/input for newly created device nodes.
type Monitor struct {
	fsWatcher *fsnotify.Watcher
	devices   chan *Device
	done      chan struct{}
}

// NewMonitor starts the hotplug watcher.
func NewMonitor() (*Monitor, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add("/dev/input"); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	m := &Monitor{
		fsWatcher: fsWatcher,
		devices:   make(chan *Device, 8),
		done:      make(chan struct{}),
	}
	go m.loop()
	return m, nil
}

// Devices yields newly attached devices.
func (m *Monitor) Devices() <-chan *Device {
	return m.devices
}

func (m *Monitor) loop() {
	for {
		select {
		case <-m.done:
			return
		case err, ok := <-m.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("hotplug watcher error", "error", err)
		case ev, ok := <-m.fsWatcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			base := ev.Name[strings.LastIndexByte(ev.Name, '/')+1:]
			num, ok := eventNum(base)
			if !ok {
				continue
			}

			// The node may not be openable the instant it appears.
			var dev *Device
			var err error
			for i := 0; i < 10; i++ {
				if dev, err = Open(num); err == nil {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			if err != nil {
				logging.Debug("ignoring new device", "error", err)
				continue
			}

			select {
			case m.devices <- dev:
			case <-m.done:
				dev.Close()
				return
			}
		}
	}
}

// Close stops the watcher.
func (m *Monitor) Close() error {
	close(m.done)
	return m.fsWatcher.Close()
}

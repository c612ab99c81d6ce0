//go:build linux

package daemon

import (
	"fmt"
	"os"
	"time"

	"github.com/keyd-cpp/keyd/internal/device"
	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
)

// Monitor prints input events from every readable device in real time.
// With timestamps enabled each line is prefixed with the ms offset from
// the previous event.
func Monitor(timestamps bool) int {
	type monEvent struct {
		dev *device.Device
		ev  *device.Event
	}

	events := make(chan monEvent, 64)

	watch := func(dev *device.Device) {
		fmt.Printf("device added: %s %s\n", dev.ID, dev.Name)
		go func() {
			for {
				ev, err := dev.ReadEvent()
				if err != nil {
					return
				}
				if ev == nil {
					continue
				}
				if ev.Type == device.EventRemoved {
					fmt.Printf("device removed: %s %s\n", dev.ID, dev.Name)
					dev.Close()
					return
				}
				events <- monEvent{dev: dev, ev: ev}
			}
		}()
	}

	for _, dev := range device.Scan() {
		watch(dev)
	}

	mon, err := device.NewMonitor()
	if err != nil {
		logging.Error("failed to watch for new devices", "error", err)
		return 1
	}
	defer mon.Close()

	go func() {
		for dev := range mon.Devices() {
			watch(dev)
		}
	}()

	last := time.Now()
	for me := range events {
		if me.ev.Type != device.EventKey {
			continue
		}

		state := "up"
		if me.ev.Pressed {
			state = "down"
		}

		if timestamps {
			now := time.Now()
			fmt.Fprintf(os.Stdout, "+%d ms\t", now.Sub(last).Milliseconds())
			last = now
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s %s\n", me.dev.ID, me.dev.Name, keys.KeyName(me.ev.Code), state)
	}

	return 0
}

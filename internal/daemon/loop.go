//go:build linux

package daemon

import (
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keyd-cpp/keyd/internal/device"
	"github.com/keyd-cpp/keyd/internal/ipc"
	"github.com/keyd-cpp/keyd/internal/keyboard"
	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
)

type loopEventKind int8

const (
	evDevEvent loopEventKind = iota
	evDevAdd
	evDevRemove
	evIPCRequest
	evTick
)

type loopEvent struct {
	kind  loopEventKind
	md    *managedDevice
	dev   *device.Device
	devev *device.Event
	req   *ipcRequest
}

// ipcRequest is a client message serialized into the loop; the reply is
// sent back on the channel. A nil reply tells the connection goroutine
// the loop took ownership of the socket (layer listeners).
type ipcRequest struct {
	client *ipc.Client
	msg    *ipc.Message
	reply  chan *ipc.Message
}

// Run enters the event loop. It returns only on SIGTERM/SIGINT.
func (d *Daemon) Run() error {
	signal.Ignore(syscall.SIGPIPE)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	// Devices found at startup are matched by the initial reload; only
	// hotplugged ones go through the loop.
	for _, dev := range device.Scan() {
		d.addDevice(dev)
	}

	d.reload(nil)

	go d.acceptLoop()
	go d.hotplugLoop()

	timer := time.NewTimer(0)
	<-timer.C
	timerArmed := false

	arm := func(timeout int64) {
		if timerArmed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timerArmed = false
		if timeout > 0 {
			timer.Reset(time.Duration(timeout) * time.Millisecond)
			timerArmed = true
		}
	}

	for {
		select {
		case <-sigs:
			d.cleanup()
			return nil

		case <-timer.C:
			timerArmed = false
			if d.activeKbd != nil {
				timeout := d.activeKbd.ProcessEvents([]keyboard.KeyEvent{{Time: d.now()}}, false)
				arm(timeout)
			}

		case ev := <-d.events:
			if timeout, engine := d.handleEvent(&ev); engine {
				arm(timeout)
			}
		}

		d.out.Flush()
	}
}

// handleEvent dispatches one loop event. The boolean reports whether the
// engine ran (and the timer should be re-armed with the returned value).
func (d *Daemon) handleEvent(ev *loopEvent) (int64, bool) {
	switch ev.kind {
	case evDevAdd:
		if md := d.addDevice(ev.dev); md != nil {
			d.manageDevice(md)
		}

	case evDevRemove:
		logging.Info("device removed", "id", ev.md.dev.ID, "name", ev.md.dev.Name)
		ev.md.dev.Close()
		for i, md := range d.devices {
			if md == ev.md {
				d.devices = append(d.devices[:i], d.devices[i+1:]...)
				break
			}
		}

	case evDevEvent:
		return d.handleDeviceEvent(ev.md, ev.devev)

	case evIPCRequest:
		d.handleIPC(ev.req)
	}

	return 0, false
}

func (d *Daemon) handleDeviceEvent(md *managedDevice, devev *device.Event) (int64, bool) {
	if devev.Type == device.EventKey {
		d.panicCheck(devev.Code, devev.Pressed)
	}

	if md.kbd == nil {
		if md.dev.IsVirtual && devev.Type == device.EventLed {
			d.propagateLed(devev)
		}
		return 0, false
	}

	kbd := md.kbd
	d.activeKbd = kbd

	switch devev.Type {
	case device.EventKey:
		logging.Debug("input", "key", keys.KeyName(devev.Code), "pressed", devev.Pressed)
		timeout := kbd.ProcessEvents([]keyboard.KeyEvent{{
			Code:    devev.Code,
			Pressed: devev.Pressed,
			Time:    d.now(),
		}}, true)
		return timeout, true

	case device.EventMouseMove:
		if xticks, yticks, active := kbd.AccumulateScroll(devev.X, devev.Y); active {
			d.out.MouseScroll(0, -yticks)
			d.out.MouseScroll(xticks, 0)
		} else {
			d.out.MouseMove(devev.X, devev.Y)
		}

	case device.EventMouseMoveAbs:
		d.out.MouseMoveAbs(devev.X, devev.Y)

	case device.EventMouseScroll:
		// Wheel clicks run through the engine as pseudo-key strokes.
		var timeout int64
		x, y := devev.X, devev.Y
		for d.activeKbd != nil && (x != 0 || y != 0) {
			var code uint16
			switch {
			case x > 0:
				code = keys.WheelLeft
				x--
			case x < 0:
				code = keys.WheelRight
				x++
			case y > 0:
				code = keys.WheelUp
				y--
			default:
				code = keys.WheelDown
				y++
			}

			now := d.now()
			kbd.ProcessEvents([]keyboard.KeyEvent{{Code: code, Pressed: true, Time: now}}, false)
			timeout = kbd.ProcessEvents([]keyboard.KeyEvent{{Code: code, Pressed: false, Time: now}}, false)
		}
		return timeout, true

	case device.EventLed:
		if int(devev.Code) < 16 {
			md.dev.LedState[devev.Code] = devev.Pressed
			// Restore the layer indicator if the host fights over it.
			if devev.Code == uint16(kbd.Config.LayerIndicator) {
				d.activateLeds(kbd)
			}
		}
	}

	return 0, false
}

// propagateLed forwards LED events received by the virtual keyboard from
// userspace to all grabbed devices, suppressing the indicator bit the
// engine owns.
func (d *Daemon) propagateLed(devev *device.Event) {
	for _, md := range d.devices {
		if md.kbd == nil || md.dev.Capabilities&device.CapLeds == 0 {
			continue
		}
		if int(devev.Code) < 16 {
			prev := md.dev.LedState[devev.Code]
			md.dev.LedState[devev.Code] = devev.Pressed
			if prev == devev.Pressed {
				continue
			}
		}
		if devev.Code == uint16(md.kbd.Config.LayerIndicator) {
			continue
		}
		md.dev.SetLed(uint8(devev.Code), devev.Pressed)
	}
}

// addDevice registers a device and spawns its reader goroutine. Called
// only from the loop goroutine (or before the loop starts).
func (d *Daemon) addDevice(dev *device.Device) *managedDevice {
	if len(d.devices) >= maxDevices {
		logging.Warn("too many devices, ignoring", "name", dev.Name)
		dev.Close()
		return nil
	}

	md := &managedDevice{dev: dev}
	d.devices = append(d.devices, md)

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
				d.events <- loopEvent{kind: evDevRemove, md: md}
				return
			}
			d.events <- loopEvent{kind: evDevEvent, md: md, devev: ev}
		}
	}()

	return md
}

func (d *Daemon) hotplugLoop() {
	for dev := range d.monitor.Devices() {
		d.events <- loopEvent{kind: evDevAdd, dev: dev}
	}
}

func (d *Daemon) acceptLoop() {
	for {
		client, err := d.server.Accept()
		if err != nil {
			return
		}
		go d.serveClient(client)
	}
}

// serveClient reads messages off one connection and round-trips them
// through the loop. Bind connections repeat until the client closes.
func (d *Daemon) serveClient(client *ipc.Client) {
	defer func() {
		if client.Conn != nil {
			client.Conn.Close()
		}
	}()

	for {
		msg, err := ipc.ReadMessage(client.Conn)
		if err != nil {
			if err != io.EOF {
				logging.Debug("client read failed", "error", err)
			}
			return
		}

		req := &ipcRequest{client: client, msg: msg, reply: make(chan *ipc.Message, 1)}
		d.events <- loopEvent{kind: evIPCRequest, req: req}
		reply := <-req.reply

		if reply == nil {
			// The loop took ownership of the connection.
			client.Conn = nil
			return
		}
		if err := reply.Write(client.Conn); err != nil {
			return
		}

		if msg.Type != ipc.MsgBind {
			return
		}
	}
}

// listener is a connection upgraded to a layer state change stream.
type listener struct {
	conn net.Conn
}

// send writes one line, dropping the listener on back pressure.
func (l *listener) send(line string) bool {
	l.conn.SetWriteDeadline(time.Now().Add(listenerSendTimeout))
	_, err := l.conn.Write([]byte(line + "\n"))
	return err == nil
}

// addListener registers a layer-listen stream and primes it with the
// current state.
func (d *Daemon) addListener(conn net.Conn) {
	if len(d.listeners) >= maxListeners {
		logging.Warn("too many listeners, ignoring")
		conn.Close()
		return
	}

	l := &listener{conn: conn}

	if kbd := d.activeKbd; kbd != nil {
		cfg := kbd.Config
		if !l.send("/" + cfg.Layers[kbd.Layout()].Name) {
			conn.Close()
			return
		}
		for i := range cfg.Layers {
			if kbd.LayerActive(i) && i != kbd.Layout() && !cfg.Layers[i].IsComposite() {
				if !l.send("+" + cfg.Layers[i].Name) {
					conn.Close()
					return
				}
			}
		}
	}

	d.listeners = append(d.listeners, l)
}

// onLayerChange streams layer transitions to listeners and keeps the
// indicator LED current. Composite layers emit one line per constituent.
func (d *Daemon) onLayerChange(kbd *keyboard.Keyboard, layerIdx int, active bool) {
	d.activateLeds(kbd)

	layer := &kbd.Config.Layers[layerIdx]

	prefix := byte('/')
	if layerIdx != kbd.Layout() {
		if active {
			prefix = '+'
		} else {
			prefix = '-'
		}
	}

	keep := d.listeners[:0]
	for _, l := range d.listeners {
		ok := true
		if !layer.IsComposite() {
			ok = l.send(string(prefix) + layer.Name)
		} else {
			for _, idx := range layer.Constituents {
				if ok = l.send(string(prefix) + kbd.Config.Layers[idx].Name); !ok {
					break
				}
			}
		}
		if ok {
			keep = append(keep, l)
		} else {
			l.conn.Close()
		}
	}
	d.listeners = keep
}

//go:build linux

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/keyd-cpp/keyd/internal/logging"
	"github.com/keyd-cpp/keyd/internal/vkbd"
)

const (
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03
	evLed = 0x11

	relX      = 0x00
	relY      = 0x01
	relHWheel = 0x06
	relWheel  = 0x08

	absX = 0x00
	absY = 0x01

	keyMax = 0x2ff
	ledCnt = 0x10

	btnLeft = 0x110
)

// evdev ioctl request encoding ('E' = 0x45).
func iocRead(nr, size uintptr) uintptr {
	return 2<<30 | size<<16 | 0x45<<8 | nr
}

func iocWrite(nr, size uintptr) uintptr {
	return 1<<30 | size<<16 | 0x45<<8 | nr
}

func ioctl(fd uintptr, req uintptr, ptr unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(ptr))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlInt(fd uintptr, req uintptr, val uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, val)
	if errno != 0 {
		return errno
	}
	return nil
}

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// Device is an opened evdev node.
type Device struct {
	Num          int
	ID           string
	Name         string
	Capabilities uint8
	Grabbed      bool
	IsVirtual    bool

	LedState [ledCnt]bool

	minX, maxX int32
	minY, maxY int32

	file *os.File
}

// generateUID produces a reproducible identifier hash for a device. The
// product and vendor ids are insufficient on their own since one piece of
// hardware can create multiple nodes with different capabilities.
func generateUID(numKeys uint32, absmask, relmask uint8, name string) uint32 {
	hash := uint32(5183)

	// djb2
	hash = hash*33 + numKeys>>24&0xff
	hash = hash*33 + numKeys>>16&0xff
	hash = hash*33 + numKeys>>8&0xff
	hash = hash*33 + numKeys&0xff
	hash = hash*33 + uint32(absmask)
	hash = hash*33 + uint32(relmask)

	for i := 0; i < len(name); i++ {
		hash = hash*33 + uint32(name[i])
	}

	return hash
}

// resolveCapabilities probes the event bits. A device that can emit the
// lexical key baseline, a brightness key or a volume key counts as a
// keyboard; this accommodates laptops whose hotkeys live on a separate
// node from the main keyboard.
func resolveCapabilities(fd uintptr) (caps uint8, numKeys uint32, relmask, absmask uint8, err error) {
	const (
		keyBrightnessUp = 225
		keyVolumeUp     = 115
	)

	// 1..0, q w e r t y
	var keyboardMask uint32
	for _, code := range []uint{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 16, 17, 18, 19, 20, 21} {
		keyboardMask |= 1 << code
	}

	var mask [btnLeft/32 + 1]uint32
	if err = ioctl(fd, iocRead(0x20+evKey, unsafe.Sizeof(mask)), unsafe.Pointer(&mask)); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("ioctl ev_key: %w", err)
	}
	if err = ioctl(fd, iocRead(0x20+evRel, 1), unsafe.Pointer(&relmask)); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("ioctl ev_rel: %w", err)
	}
	if err = ioctl(fd, iocRead(0x20+evAbs, 1), unsafe.Pointer(&absmask)); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("ioctl ev_abs: %w", err)
	}
	var ledCaps uint8
	if err = ioctl(fd, iocRead(0x20+evLed, 1), unsafe.Pointer(&ledCaps)); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("ioctl ev_led: %w", err)
	}

	for _, word := range mask {
		numKeys += uint32(bits.OnesCount32(word))
	}

	if relmask != 0 || absmask != 0 {
		caps |= CapMouse
	}
	if absmask != 0 {
		caps |= CapMouseAbs
	}
	if ledCaps != 0 {
		caps |= CapLeds
	}

	hasBrightness := mask[keyBrightnessUp/32]&(1<<(keyBrightnessUp%32)) != 0
	hasVolume := mask[keyVolumeUp/32]&(1<<(keyVolumeUp%32)) != 0
	if mask[0]&keyboardMask == keyboardMask || hasBrightness || hasVolume {
		caps |= CapKeyboard
	}

	return caps, numKeys, relmask, absmask, nil
}

// Open initializes /dev/input/event<num>.
func Open(num int) (*Device, error) {
	path := fmt.Sprintf("/dev/input/event%d", num)
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	fd := f.Fd()
	caps, numKeys, relmask, absmask, err := resolveCapabilities(fd)
	if err != nil || caps == 0 {
		f.Close()
		if err == nil {
			err = fmt.Errorf("%s has no usable capabilities", path)
		}
		return nil, err
	}

	var nameBuf [256]byte
	if err := ioctl(fd, iocRead(0x06, uintptr(len(nameBuf)-1)), unsafe.Pointer(&nameBuf)); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not fetch device name of %s: %w", path, err)
	}
	name := string(nameBuf[:])
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	dev := &Device{
		Num:          num,
		Name:         name,
		Capabilities: caps,
		file:         f,
	}

	if caps&CapMouseAbs != 0 {
		var info absInfo
		if err := ioctl(fd, iocRead(0x40+absX, unsafe.Sizeof(info)), unsafe.Pointer(&info)); err != nil {
			f.Close()
			return nil, fmt.Errorf("ioctl absinfo: %w", err)
		}
		dev.minX, dev.maxX = info.Minimum, info.Maximum
		if err := ioctl(fd, iocRead(0x40+absY, unsafe.Sizeof(info)), unsafe.Pointer(&info)); err != nil {
			f.Close()
			return nil, fmt.Errorf("ioctl absinfo: %w", err)
		}
		dev.minY, dev.maxY = info.Minimum, info.Maximum
	}

	var info inputID
	if err := ioctl(fd, iocRead(0x02, unsafe.Sizeof(info)), unsafe.Pointer(&info)); err != nil {
		f.Close()
		return nil, fmt.Errorf("ioctl EVIOCGID: %w", err)
	}

	// These identifiers should be regarded as opaque by the user.
	dev.ID = fmt.Sprintf("%04x:%04x:%08x", info.Vendor, info.Product,
		generateUID(numKeys, absmask, relmask, name))
	dev.IsVirtual = strings.HasPrefix(name, vkbd.DeviceName)

	return dev, nil
}

// Scan opens every usable device under /dev/input.
func Scan() []*Device {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		logging.Error("failed to scan /dev/input", "error", err)
		return nil
	}

	var devices []*Device
	for _, ent := range entries {
		num, ok := eventNum(ent.Name())
		if !ok {
			continue
		}
		dev, err := Open(num)
		if err != nil {
			logging.Debug("skipping device", "error", err)
			continue
		}
		devices = append(devices, dev)
	}
	return devices
}

func eventNum(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "event")
	if !ok || rest == "" {
		return 0, false
	}
	num := 0
	for _, ch := range rest {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		num = num*10 + int(ch-'0')
	}
	return num, true
}

// Grab takes exclusive ownership of the device, waiting out held keys so
// residual key up events propagate to the previous owner first.
func (d *Device) Grab() error {
	if d.Grabbed {
		return nil
	}

	fd := d.file.Fd()
	var state [keyMax/8 + 1]byte
	pending := 0

	for i := 0; i < 100; i++ {
		if err := ioctl(fd, iocRead(0x18, unsafe.Sizeof(state)), unsafe.Pointer(&state)); err != nil {
			return fmt.Errorf("ioctl EVIOCGKEY: %w", err)
		}

		pending = 0
		for _, b := range state {
			pending += int(b)
		}
		if pending == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if pending != 0 {
		// Allow the key up events to propagate before grabbing.
		time.Sleep(50 * time.Millisecond)
	}

	if d.Capabilities&CapLeds != 0 {
		var leds [ledCnt / 8]byte
		if err := ioctl(fd, iocRead(0x19, unsafe.Sizeof(leds)), unsafe.Pointer(&leds)); err != nil {
			return fmt.Errorf("ioctl EVIOCGLED: %w", err)
		}
		for i := 0; i < ledCnt; i++ {
			d.LedState[i] = leds[i/8]&(1<<(i%8)) != 0
		}
	}

	if err := ioctlInt(fd, iocWrite(0x90, 4), 1); err != nil {
		return fmt.Errorf("ioctl EVIOCGRAB: %w", err)
	}

	// Drain any input events queued before the grab.
	d.file.SetReadDeadline(time.Now())
	var buf [24]byte
	for {
		if _, err := d.file.Read(buf[:]); err != nil {
			break
		}
	}
	d.file.SetReadDeadline(time.Time{})

	d.Grabbed = true
	return nil
}

// Ungrab releases the device and restores its pre-grab LED state.
func (d *Device) Ungrab() error {
	if !d.Grabbed {
		return nil
	}

	if err := ioctlInt(d.file.Fd(), iocWrite(0x90, 4), 0); err != nil {
		return err
	}

	if d.Capabilities&CapLeds != 0 {
		for i := 0; i < ledCnt; i++ {
			d.SetLed(uint8(i), d.LedState[i])
		}
	}

	d.Grabbed = false
	return nil
}

// ReadEvent blocks for the next demuxed event. A nil event with nil error
// marks input that should be ignored (repeats, unhandled codes).
func (d *Device) ReadEvent() (*Event, error) {
	var buf [24]byte
	if _, err := d.file.Read(buf[:]); err != nil {
		// A deadline error means a concurrent grab is draining the fd.
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		return &Event{Type: EventRemoved}, nil
	}

	typ := binary.LittleEndian.Uint16(buf[16:18])
	code := binary.LittleEndian.Uint16(buf[18:20])
	value := int32(binary.LittleEndian.Uint32(buf[20:24]))

	var ev Event
	switch typ {
	case evRel:
		switch code {
		case relWheel:
			ev = Event{Type: EventMouseScroll, Y: value}
		case relHWheel:
			ev = Event{Type: EventMouseScroll, X: value}
		case relX:
			ev = Event{Type: EventMouseMove, X: value}
		case relY:
			ev = Event{Type: EventMouseMove, Y: value}
		default:
			logging.Debug("unrecognized EV_REL code", "code", code)
			return nil, nil
		}
	case evAbs:
		switch code {
		case absX:
			if d.maxX == d.minX {
				return nil, nil
			}
			ev = Event{Type: EventMouseMoveAbs, X: value * 1024 / (d.maxX - d.minX)}
		case absY:
			if d.maxY == d.minY {
				return nil, nil
			}
			ev = Event{Type: EventMouseMoveAbs, Y: value * 1024 / (d.maxY - d.minY)}
		default:
			return nil, nil
		}
	case evKey:
		// Ignore repeat events.
		if value == 2 {
			return nil, nil
		}
		ev = Event{Type: EventKey, Code: code, Pressed: value != 0}
	case evLed:
		ev = Event{Type: EventLed, Code: code, Pressed: value != 0}
	default:
		return nil, nil
	}

	return &ev, nil
}

// SetLed writes an LED state change to the device.
func (d *Device) SetLed(led uint8, state bool) {
	if int(led) >= ledCnt || d.Capabilities&CapLeds == 0 {
		return
	}

	var value int32
	if state {
		value = 1
	}

	var buf [48]byte
	binary.LittleEndian.PutUint16(buf[16:], evLed)
	binary.LittleEndian.PutUint16(buf[18:], uint16(led))
	binary.LittleEndian.PutUint32(buf[20:], uint32(value))
	// Trailing EV_SYN is all zeroes.
	if _, err := d.file.Write(buf[:]); err != nil {
		logging.Debug("led write failed", "device", d.Name, "error", err)
	}
}

// Close releases the file descriptor.
func (d *Device) Close() error {
	return d.file.Close()
}

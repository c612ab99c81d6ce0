//go:build linux

package vkbd

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
)

// Event codes and uinput ioctls not named by x/sys/unix.
// Values from include/uapi/linux/{input-event-codes,uinput}.h.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03
	evLed = 0x11
	evRep = 0x14

	synReport = 0

	relX      = 0x00
	relY      = 0x01
	relHWheel = 0x06
	relWheel  = 0x08

	absX = 0x00
	absY = 0x01

	ledNumL = 0x00
	ledMisc = 0x04

	uiSetEvBit  = 0x40045564
	uiSetKeyBit = 0x40045565
	uiSetRelBit = 0x40045566
	uiSetAbsBit = 0x40045567
	uiSetLedBit = 0x40045569

	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
)

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputUserDev struct {
	Name         [80]byte
	ID           inputID
	FFEffectsMax uint32
	Absmax       [64]int32
	Absmin       [64]int32
	Absfuzz      [64]int32
	Absflat      [64]int32
}

type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// UInput is the uinput-backed virtual keyboard and pointer pair.
type UInput struct {
	keyboard *os.File
	pointer  *os.File

	wheelX int32
	wheelY int32
}

// Open creates the two synthetic devices.
func Open() (*UInput, error) {
	kbd, err := createKeyboard(DeviceName + "keyboard")
	if err != nil {
		return nil, err
	}
	ptr, err := createPointer(DeviceName + "pointer")
	if err != nil {
		kbd.Close()
		return nil, err
	}
	return &UInput{keyboard: kbd, pointer: ptr}, nil
}

func openUinput() (*os.File, error) {
	for _, path := range []string{"/dev/uinput", "/dev/input/uinput"} {
		f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("failed to open /dev/uinput")
}

func setup(f *os.File, name string, absmax int32) error {
	var udev uinputUserDev
	copy(udev.Name[:], name)
	udev.ID.Bustype = unix.BUS_USB
	udev.ID.Vendor = 0x0fac
	udev.ID.Product = 0x0ade
	if absmax != 0 {
		udev.Absmax[absX] = absmax
		udev.Absmax[absY] = absmax
	}

	// Favoured over the newer UINPUT_DEV_SETUP ioctl to support older
	// kernels.
	if err := binary.Write(f, binary.LittleEndian, &udev); err != nil {
		return fmt.Errorf("write uinput_user_dev: %w", err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), uiDevCreate, 0); err != nil {
		return fmt.Errorf("UI_DEV_CREATE: %w", err)
	}
	return nil
}

func createKeyboard(name string) (*os.File, error) {
	f, err := openUinput()
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())

	for _, ev := range []int{evKey, evLed, evSyn, evRep} {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, ev); err != nil {
			f.Close()
			return nil, fmt.Errorf("UI_SET_EVBIT: %w", err)
		}
	}
	for code := 1; code < keys.KeyCount; code++ {
		_ = unix.IoctlSetInt(fd, uiSetKeyBit, code)
	}
	for led := ledNumL; led <= ledMisc; led++ {
		_ = unix.IoctlSetInt(fd, uiSetLedBit, led)
	}

	if err := setup(f, name, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func createPointer(name string) (*os.File, error) {
	f, err := openUinput()
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())

	for _, ev := range []int{evKey, evRel, evAbs, evSyn} {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, ev); err != nil {
			f.Close()
			return nil, fmt.Errorf("UI_SET_EVBIT: %w", err)
		}
	}
	for code := keys.BtnLeft; code <= keys.BtnBack; code++ {
		_ = unix.IoctlSetInt(fd, uiSetKeyBit, code)
	}
	for _, rel := range []int{relX, relY, relWheel, relHWheel} {
		_ = unix.IoctlSetInt(fd, uiSetRelBit, rel)
	}
	for _, abs := range []int{absX, absY} {
		_ = unix.IoctlSetInt(fd, uiSetAbsBit, abs)
	}

	if err := setup(f, name, 1023); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func emit(f *os.File, typ, code uint16, value int32) {
	ev := inputEvent{Type: typ, Code: code, Value: value}
	if err := binary.Write(f, binary.LittleEndian, &ev); err != nil {
		logging.Debug("virtual device write failed", "error", err)
	}
}

func (u *UInput) SendKey(code uint16, pressed bool) {
	var value int32
	if pressed {
		value = 1
	}

	// Wheel pseudo-codes become scroll deltas on the pointer.
	if keys.IsWheel(code) {
		if pressed {
			switch code {
			case keys.WheelUp:
				u.MouseScroll(0, 1)
			case keys.WheelDown:
				u.MouseScroll(0, -1)
			case keys.WheelLeft:
				u.MouseScroll(1, 0)
			case keys.WheelRight:
				u.MouseScroll(-1, 0)
			}
		}
		return
	}

	// All buttons go through the virtual pointer to prevent X from
	// identifying the virtual keyboard as a mouse.
	if code >= keys.BtnLeft && code <= keys.BtnBack {
		emit(u.pointer, evKey, code, value)
		emit(u.pointer, evSyn, synReport, 0)
		return
	}
	if code >= keys.KeyCount {
		return
	}
	emit(u.keyboard, evKey, code, value)
	emit(u.keyboard, evSyn, synReport, 0)
}

func (u *UInput) MouseMove(x, y int32) {
	if x != 0 {
		emit(u.pointer, evRel, relX, x)
	}
	if y != 0 {
		emit(u.pointer, evRel, relY, y)
	}
	emit(u.pointer, evSyn, synReport, 0)
}

func (u *UInput) MouseMoveAbs(x, y int32) {
	emit(u.pointer, evAbs, absX, x)
	emit(u.pointer, evAbs, absY, y)
	emit(u.pointer, evSyn, synReport, 0)
}

func (u *UInput) MouseScroll(x, y int32) {
	u.wheelX += x
	u.wheelY += y
}

// Flush emits the wheel deltas buffered during this event-loop tick.
func (u *UInput) Flush() {
	if u.wheelX != 0 {
		emit(u.pointer, evRel, relHWheel, u.wheelX)
		u.wheelX = 0
	}
	if u.wheelY != 0 {
		emit(u.pointer, evRel, relWheel, u.wheelY)
		u.wheelY = 0
	}
	emit(u.pointer, evSyn, synReport, 0)
}

func (u *UInput) Close() error {
	for _, f := range []*os.File{u.keyboard, u.pointer} {
		_ = unix.IoctlSetInt(int(f.Fd()), uiDevDestroy, 0)
		f.Close()
	}
	return nil
}

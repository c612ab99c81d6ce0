package vkbd

import (
	"fmt"
	"os"

	"github.com/keyd-cpp/keyd/internal/keys"
)

// Stdout is a debugging sink that prints output events instead of
// injecting them.
type Stdout struct{}

func (Stdout) SendKey(code uint16, pressed bool) {
	state := "up"
	if pressed {
		state = "down"
	}
	fmt.Fprintf(os.Stdout, "key: %s %s\n", keys.KeyName(code), state)
}

func (Stdout) MouseMove(x, y int32) {
	fmt.Fprintf(os.Stdout, "mouse move: %d %d\n", x, y)
}

func (Stdout) MouseMoveAbs(x, y int32) {
	fmt.Fprintf(os.Stdout, "mouse move abs: %d %d\n", x, y)
}

func (Stdout) MouseScroll(x, y int32) {
	fmt.Fprintf(os.Stdout, "mouse scroll: %d %d\n", x, y)
}

func (Stdout) Flush() {}

func (Stdout) Close() error { return nil }

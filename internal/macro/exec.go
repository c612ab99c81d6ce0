package macro

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
	"github.com/keyd-cpp/keyd/internal/unicode"
)

// ExecEnv supplies the tables a running macro draws on. Implemented by the
// config; a nil ExecEnv falls back to the canonical left-variant modifier
// keys and rejects commands.
type ExecEnv interface {
	// ModifierKey returns the key pressed to assert a modifier class.
	ModifierKey(class int) (uint16, bool)
	// Command returns the interned command for a Command step.
	Command(idx int) *Cmd
}

// canonicalMods are the fallback per-class keys used without a config.
var canonicalMods = [keys.ModMax]uint16{
	keys.KeyLeftAlt,
	keys.KeyLeftMeta,
	keys.KeyLeftShift,
	keys.KeyLeftCtrl,
	keys.KeyRightAlt,
	keys.FakeModHyper,
	keys.FakeModLevel5,
	keys.FakeModNLock,
}

func modifierKey(env ExecEnv, class int) (uint16, bool) {
	if env != nil {
		return env.ModifierKey(class)
	}
	return canonicalMods[class], true
}

// Run walks the macro emitting key transitions through send. timeout is
// the inter-step spacing in milliseconds; the accumulated sleep time in
// milliseconds is returned so callers can push their repeat deadline past
// the execution itself.
func Run(send func(code uint16, pressed bool), m Macro, timeout int64, env ExecEnv) int64 {
	var slept int64
	holdStart := -1

	sleep := func(ms int64) {
		if ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
			slept += ms
		}
	}

	for i := 0; i < len(m); i++ {
		ent := &m[i]

		switch ent.Kind {
		case Hold:
			if holdStart == -1 {
				holdStart = i
			}
			send(ent.Code, true)
		case Release:
			if holdStart != -1 {
				for j := holdStart; j < i; j++ {
					if m[j].Kind == Hold {
						send(m[j].Code, false)
					}
				}
				holdStart = -1
			}
		case Unicode:
			var codes [4]uint16
			unicode.Sequence(int(ent.Code), &codes)
			for _, code := range codes {
				send(code, true)
				send(code, false)
			}
		case KeySeq, KeyTap:
			for j := 0; j < keys.ModMax; j++ {
				if ent.Mods&(1<<j) != 0 {
					if code, ok := modifierKey(env, j); ok {
						send(code, true)
					}
				}
			}
			if ent.Mods != 0 {
				sleep(timeout)
			}
			send(ent.Code, true)
			send(ent.Code, false)
			for j := 0; j < keys.ModMax; j++ {
				if ent.Mods&(1<<j) != 0 {
					if code, ok := modifierKey(env, j); ok {
						send(code, false)
					}
				}
			}
		case Timeout:
			sleep(int64(ent.Code))
		case Command:
			if env != nil {
				if cmd := env.Command(int(ent.Code)); cmd != nil {
					runCommand(cmd)
				}
			}
		default:
			continue
		}

		sleep(timeout)
	}

	return slept
}

// runCommand launches a user command detached, dropping to the stored
// credentials and inheriting the captured environment.
func runCommand(cmd *Cmd) {
	logging.Debug("executing command", "cmd", cmd.Cmd)

	c := exec.Command("/bin/sh", "-c", cmd.Cmd)
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err == nil {
		c.Stdin = devnull
		c.Stdout = devnull
		c.Stderr = devnull
		defer devnull.Close()
	}
	if cmd.Env != nil {
		c.Env = cmd.Env.Env
	}
	if cmd.UID != 0 || cmd.GID != 0 {
		c.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: cmd.UID, Gid: cmd.GID},
		}
	}

	if err := c.Start(); err != nil {
		logging.Error("command failed to start", "cmd", cmd.Cmd, "error", err)
		return
	}
	go c.Wait()
}

//go:build linux

package daemon

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/keyd-cpp/keyd/internal/ipc"
	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/macro"
	"github.com/keyd-cpp/keyd/internal/unicode"
)

// ipcMacroEnv backs macros executed on behalf of a client without a
// device config: commands run under the client's credentials and
// captured environment, modifiers fall back to the canonical keys.
type ipcMacroEnv struct {
	cmds []macro.Cmd
	env  *macro.EnvPack
}

func (e *ipcMacroEnv) AddCommand(cmd string) (int, error) {
	var uid, gid uint32
	if e.env != nil {
		uid, gid = e.env.UID, e.env.GID
	}
	e.cmds = append(e.cmds, macro.Cmd{Cmd: cmd, UID: uid, GID: gid, Env: e.env})
	return len(e.cmds) - 1, nil
}

func (e *ipcMacroEnv) ModifierKey(class int) (uint16, bool) {
	switch class {
	case keys.ModAlt:
		return keys.KeyLeftAlt, true
	case keys.ModSuper:
		return keys.KeyLeftMeta, true
	case keys.ModShift:
		return keys.KeyLeftShift, true
	case keys.ModCtrl:
		return keys.KeyLeftCtrl, true
	case keys.ModAltGr:
		return keys.KeyRightAlt, true
	}
	return 0, false
}

func (e *ipcMacroEnv) Command(idx int) *macro.Cmd {
	if idx < 0 || idx >= len(e.cmds) {
		return nil
	}
	return &e.cmds[idx]
}

// handleIPC runs a client message to completion against the live config.
func (d *Daemon) handleIPC(req *ipcRequest) {
	msg := req.msg

	if msg.Timeout > ipc.MaxTimeout {
		req.reply <- ipc.NewFail("timeout cannot exceed %d ms", ipc.MaxTimeout)
		return
	}

	switch msg.Type {
	case ipc.MsgMacro:
		expr := strings.TrimRight(string(msg.Data), "\n")

		env := &ipcMacroEnv{env: req.client.Env}
		m, err := macro.Parse(expr, env)
		if err != nil {
			req.reply <- ipc.NewFail("%v", err)
			return
		}

		macro.Run(d.sendKey, m, int64(msg.Timeout), env)
		d.out.Flush()
		req.reply <- ipc.NewSuccess()

	case ipc.MsgInput:
		if err := d.typeText(string(msg.Data), msg.Timeout); err != nil {
			req.reply <- ipc.NewFail("%v", err)
		} else {
			req.reply <- ipc.NewSuccess()
		}

	case ipc.MsgReload:
		d.reload(req.client.Env)
		req.reply <- ipc.NewSuccess()

	case ipc.MsgLayerListen:
		d.addListener(req.client.Conn)
		req.reply <- nil

	case ipc.MsgBind:
		req.reply <- d.handleBind(req)

	default:
		req.reply <- ipc.NewFail("unknown command")
	}
}

func (d *Daemon) handleBind(req *ipcRequest) *ipc.Message {
	if len(d.configs) == 0 {
		return ipc.NewFail("no configs found")
	}

	expr := string(req.msg.Data)

	// Lazily snapshot configs so that reset is cheap and deterministic.
	for _, kbd := range d.configs {
		kbd.EnsureBackup()
	}

	success := false
	for _, kbd := range d.configs {
		if env := req.client.Env; env != nil {
			if kbd.Config.Env == nil || !kbd.Config.Env.Equal(env) {
				kbd.Config.Env = env
				kbd.Config.UseUID = env.UID
				kbd.Config.UseGID = env.GID
			}
		}
		if kbd.Eval(expr) {
			success = true
		}
	}

	for _, kbd := range d.configs {
		kbd.UpdateLayerState()
	}

	if success {
		return ipc.NewSuccess()
	}
	return ipc.NewFail("invalid binding: %s", expr)
}

// typeText types literal UTF-8 text through the virtual keyboard:
// shiftable printable ASCII maps to keys, everything else goes through
// the unicode table.
func (d *Daemon) typeText(text string, timeout uint64) error {
	tap := func(code uint16) {
		d.sendKey(code, true)
		d.sendKey(code, false)
	}

	for len(text) > 0 {
		r, sz := utf8.DecodeRuneInString(text)

		found := false
		if sz == 1 {
			if code, mods, _, rem := keys.ParseKeySequence(text[:1]); rem == 0 && code != 0 {
				found = true
				if mods&(1<<keys.ModShift) != 0 {
					d.sendKey(keys.KeyLeftShift, true)
					tap(code)
					d.sendKey(keys.KeyLeftShift, false)
				} else {
					tap(code)
				}
			} else {
				found = true
				switch text[0] {
				case ' ':
					tap(keys.KeySpace)
				case '\n':
					tap(keys.KeyEnter)
				case '\t':
					tap(keys.KeyTab)
				default:
					found = false
				}
			}
		}

		if !found {
			idx := unicode.LookupIndex(r)
			if idx < 0 {
				return errNoSequence(text[:sz])
			}

			var codes [4]uint16
			unicode.Sequence(idx, &codes)
			for _, code := range codes {
				tap(code)
			}
		}

		text = text[sz:]
		d.out.Flush()

		if timeout > 0 {
			time.Sleep(time.Duration(timeout) * time.Millisecond)
		}
	}

	return nil
}

type errNoSequence string

func (e errNoSequence) Error() string {
	return "could not find code for \"" + string(e) + "\""
}

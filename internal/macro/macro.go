// Package macro implements the compiled macro model: a flat sequence of
// key taps, compound holds, unicode emissions, timeouts and shell
// commands, parsed from the config's macro expression syntax.
package macro

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/unicode"
)

// Kind tags a macro step.
type Kind uint8

const (
	KeySeq Kind = iota
	KeyTap
	Hold
	Release
	Unicode
	Timeout
	Command
)

// Step is one macro entry. Code doubles as the key code (KeySeq, KeyTap,
// Hold), unicode table index (Unicode), millisecond count (Timeout) or
// command table index (Command).
type Step struct {
	Kind     Kind
	Code     uint16
	Mods     uint8
	Wildcard uint8
}

// Macro is a compiled sequence of steps.
type Macro []Step

// EnvPack is a captured client environment attached to commands parsed on
// its behalf.
type EnvPack struct {
	Env []string
	UID uint32
	GID uint32
}

// Getenv looks a variable up in the captured environment.
func (p *EnvPack) Getenv(name string) string {
	if p == nil {
		return ""
	}
	for _, kv := range p.Env {
		if len(kv) > len(name) && kv[len(name)] == '=' && kv[:len(name)] == name {
			return kv[len(name)+1:]
		}
	}
	return ""
}

// Equal reports whether two packs capture the same environment.
func (p *EnvPack) Equal(o *EnvPack) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.UID != o.UID || p.GID != o.GID || len(p.Env) != len(o.Env) {
		return false
	}
	for i := range p.Env {
		if p.Env[i] != o.Env[i] {
			return false
		}
	}
	return true
}

// Cmd is a user command with the credentials and environment it runs under.
type Cmd struct {
	Cmd string
	UID uint32
	GID uint32
	Env *EnvPack
}

// CommandRegistry interns commands parsed out of cmd(...) steps.
// Implemented by the config.
type CommandRegistry interface {
	AddCommand(cmd string) (int, error)
}

// unescape resolves \n \t \r \b and treats any other backslash pair as the
// literal second byte.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// findUnescaped returns the index of the first unescaped occurrence of ch.
func findUnescaped(s string, ch byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
		} else if s[i] == ch {
			return i
		}
	}
	return -1
}

// asciiKey resolves a single printable ASCII byte to (code, mods).
func asciiKey(ch byte) (uint16, uint8, bool) {
	for i := uint16(0); i < keys.KeyCount; i++ {
		ent := &keys.Table[i]
		if len(ent.Name) == 1 && ent.Name[0] == ch {
			return i, 0, true
		}
		if len(ent.Shifted) == 1 && ent.Shifted[0] == ch {
			return i, 1 << keys.ModShift, true
		}
		if len(ent.Alt) == 1 && ent.Alt[0] == ch {
			return i, 0, true
		}
	}
	return 0, 0, false
}

// appendText compiles the body of a type(...) expression.
func appendText(m Macro, text string) (Macro, error) {
	for len(text) > 0 {
		r, sz := utf8.DecodeRuneInString(text)
		if sz == 1 && r < 128 {
			code, mods, ok := asciiKey(text[0])
			if !ok {
				return nil, fmt.Errorf("invalid macro text: %q", text)
			}
			m = append(m, Step{Kind: KeySeq, Code: code, Mods: mods})
		} else if idx := unicode.LookupIndex(r); idx >= 0 {
			m = append(m, Step{Kind: Unicode, Code: uint16(idx)})
		} else {
			return nil, fmt.Errorf("invalid macro text: %q", text)
		}
		text = text[sz:]
	}
	return m, nil
}

func isTimeoutToken(tok string) bool {
	if !strings.HasSuffix(tok, "ms") || len(tok) == 2 {
		return false
	}
	for _, ch := range tok[:len(tok)-2] {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// Parse compiles a macro expression of the form `C-t type(hello) enter`.
// Commands are interned through reg, which may be nil when cmd(...) steps
// are not permitted.
func Parse(s string, reg CommandRegistry) (Macro, error) {
	var m Macro

	for {
		s = strings.TrimLeft(s, " \t\r\n")
		if s == "" {
			break
		}
		tok := s
		if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
			tok = s[:i]
		}

		if prefixed(tok, "cmd(", "command(") || prefixed(tok, "type(", "text(", "txt(", "t(") {
			isCmd := prefixed(tok, "cmd(", "command(")
			body := s[strings.IndexByte(s, '(')+1:]
			end := findUnescaped(body, ')')
			if end < 0 {
				return nil, fmt.Errorf("incomplete macro command found")
			}
			arg := unescape(body[:end])
			s = body[end+1:]

			if isCmd {
				if reg == nil {
					return nil, fmt.Errorf("commands are not available here")
				}
				idx, err := reg.AddCommand(arg)
				if err != nil {
					return nil, err
				}
				m = append(m, Step{Kind: Command, Code: uint16(idx)})
			} else {
				var err error
				if m, err = appendText(m, arg); err != nil {
					return nil, err
				}
			}
			continue
		}

		s = s[len(tok):]
		tok = unescape(tok)

		if code, mods, wildc, rem := keys.ParseKeySequence(tok); rem == 0 && code != 0 {
			if wildc != 0 {
				return nil, fmt.Errorf("%s has a wildcard inside a macro", tok)
			}
			m = append(m, Step{Kind: KeySeq, Code: code, Mods: mods})
			continue
		}

		if strings.ContainsRune(tok, '+') {
			for _, part := range strings.Split(tok, "+") {
				if isTimeoutToken(part) {
					n, _ := strconv.Atoi(part[:len(part)-2])
					m = append(m, Step{Kind: Timeout, Code: uint16(n)})
				} else if code, mods, wildc, rem := keys.ParseKeySequence(part); rem == 0 && code != 0 && mods == 0 && wildc == 0 {
					m = append(m, Step{Kind: Hold, Code: code})
				} else {
					return nil, fmt.Errorf("%s is not a valid compound key or timeout", part)
				}
			}
			m = append(m, Step{Kind: Release})
			continue
		}

		if isTimeoutToken(tok) {
			n, _ := strconv.Atoi(tok[:len(tok)-2])
			m = append(m, Step{Kind: Timeout, Code: uint16(n)})
			continue
		}

		if r, sz := utf8.DecodeRuneInString(tok); sz == len(tok) {
			if sz == 1 && r < 128 {
				if code, mods, ok := asciiKey(tok[0]); ok {
					m = append(m, Step{Kind: KeySeq, Code: code, Mods: mods})
					continue
				}
			} else if idx := unicode.LookupIndex(r); idx >= 0 {
				m = append(m, Step{Kind: Unicode, Code: uint16(idx)})
				continue
			}
		}

		return nil, fmt.Errorf("%s is not a valid key sequence", tok)
	}

	return m, nil
}

func prefixed(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

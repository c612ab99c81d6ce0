// keyd is a key remapping daemon; without a subcommand it runs the
// daemon itself, otherwise it acts as a control client.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/keyd-cpp/keyd/internal/daemon"
	"github.com/keyd-cpp/keyd/internal/ipc"
	"github.com/keyd-cpp/keyd/internal/keys"
	"github.com/keyd-cpp/keyd/internal/logging"
)

const version = "1.0.0"

func main() {
	logging.SetDefault(logging.New(logging.DefaultConfig()))

	if len(os.Args) < 2 {
		os.Exit(runDaemon())
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "help", "-h", "--help":
		usage()
	case "version", "-v", "--version":
		fmt.Printf("keyd %s\n", version)
	case "monitor", "-m", "--monitor":
		timestamps := len(args) > 0 && args[0] == "-t"
		os.Exit(daemon.Monitor(timestamps))
	case "list-keys":
		listKeys()
	case "reload":
		os.Exit(ipcExec(ipc.MsgReload, nil, 0))
	case "listen":
		os.Exit(layerListen())
	case "bind", "-e", "--expression":
		os.Exit(addBindings(args))
	case "input":
		timeout, rest := timeoutFlag(args)
		os.Exit(ipcExec(ipc.MsgInput, readInput(rest), timeout))
	case "do":
		timeout, rest := timeoutFlag(args)
		os.Exit(ipcExec(ipc.MsgMacro, readInput(rest), timeout))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`usage: keyd [-v] [-h] [command] [<args>]

Commands:
    monitor [-t]                   Print key events in real time.
    list-keys                      Print a list of valid key names.
    reload                         Trigger a reload.
    listen                         Print layer state changes of the running keyd daemon to stdout.
    bind <binding> [<binding>...]  Add the supplied bindings to all loaded configs.
    input [-t <ms>] [<text>...]    Type the supplied text.
    do [-t <ms>] [<exp>...]        Execute a macro expression.
Options:
    -v, --version      Print the current version and exit.
    -h, --help         Print help and exit.
`)
}

// timeoutFlag strips a leading -t <ms> pair.
func timeoutFlag(args []string) (uint64, []string) {
	if len(args) >= 2 && args[0] == "-t" {
		n, err := strconv.ParseUint(args[1], 10, 64)
		if err == nil {
			return n, args[2:]
		}
	}
	return 0, args
}

// readInput joins the arguments or falls back to stdin.
func readInput(args []string) []byte {
	if len(args) > 0 {
		return []byte(strings.Join(args, " "))
	}

	data, err := io.ReadAll(io.LimitReader(os.Stdin, ipc.MaxMessageSize+1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
		os.Exit(1)
	}
	if len(data) > ipc.MaxMessageSize {
		fmt.Fprintln(os.Stderr, "maximum input length exceeded")
		os.Exit(1)
	}
	return data
}

// ipcExec round-trips one message and echoes any reply body.
func ipcExec(msgType ipc.MsgType, data []byte, timeout uint64) int {
	conn, err := ipc.Connect()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer conn.Close()

	reply, err := ipc.Exec(conn, msgType, data, timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if len(reply.Data) > 0 {
		fmt.Println(string(reply.Data))
	}
	if reply.Type == ipc.MsgFail {
		return 1
	}
	return 0
}

func addBindings(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: keyd bind <binding> [<binding>...]")
		return 1
	}

	conn, err := ipc.Connect()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer conn.Close()

	ret := 0
	for _, binding := range args {
		reply, err := ipc.Exec(conn, ipc.MsgBind, []byte(binding), 0)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if len(reply.Data) > 0 {
			fmt.Println(string(reply.Data))
		}
		if reply.Type == ipc.MsgFail {
			ret = 1
		}
	}

	if ret == 0 {
		fmt.Println("Success")
	}
	return ret
}

func layerListen() int {
	conn, err := ipc.Connect()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer conn.Close()

	msg := &ipc.Message{Type: ipc.MsgLayerListen}
	if err := msg.Write(conn); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if _, err := io.Copy(os.Stdout, conn); err != nil {
		return 1
	}
	return 0
}

func listKeys() {
	for code := uint16(0); code < keys.KeyCount; code++ {
		ent := &keys.Table[code]
		fmt.Printf("key_%03d: ", code)
		if ent.Name != "" {
			fmt.Printf("'%s'", ent.Name)
		}
		if ent.Alt != "" {
			fmt.Printf(" or '%s'", ent.Alt)
		}
		if ent.Shifted != "" {
			fmt.Printf(" (shifted '%s')", ent.Shifted)
		}
		fmt.Println()
	}

	for code := uint16(keys.KeyCount); code < keys.EntryCount; code++ {
		ent := &keys.Table[code]
		if ent.Name == "" {
			continue
		}
		fmt.Printf("special: '%s'", ent.Name)
		if ent.Alt != "" {
			fmt.Printf(" or '%s'", ent.Alt)
		}
		fmt.Printf(" (key_%d)\n", code)
	}
}

func runDaemon() int {
	d, err := daemon.New()
	if err != nil {
		logging.Error("failed to start daemon", "error", err)
		return 1
	}

	logging.Info("starting keyd", "version", version)
	if err := d.Run(); err != nil {
		logging.Error("daemon exited", "error", err)
		return 1
	}
	return 0
}

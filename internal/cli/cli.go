// Package cli is the interactive operator console: a readline REPL for
// inspecting and switching the controller's running mode.
//
// Grounded on src/debug_worker.go's readline wiring (history file,
// log-output redirection through a readline-aware writer, a command
// channel drained alongside a data channel in one select loop) and its
// command-dispatch shape (parseWatchSpec/handleDebugCommand), restated here
// for the operator commands spec §6 defines instead of topic watches.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/moat-inv/invctl/internal/control"
)

// Control is the console's view of the mode runner; it is exactly
// control.Surface, the contract both operator front ends drive.
type Control = control.Surface

// readlineWriter redirects log output through the active readline
// instance so log lines don't clobber the prompt line.
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (int, error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err := os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

func historyFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "invctl")
	_ = os.MkdirAll(dir, 0o750)
	return filepath.Join(dir, "cli_history")
}

func parseAssignments(args []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value for %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func handleCommand(ctx context.Context, cmd string, ctl Control) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "modes":
		names := ctl.GetModes()
		fmt.Println(strings.Join(names, "\n"))

	case "mode":
		if len(parts) < 2 {
			log.Println("usage: mode <name> [key=value ...]")
			return
		}
		if len(parts) == 2 && parts[1] == "?" {
			return
		}
		name := parts[1]
		if len(parts) >= 2 && strings.HasSuffix(parts[1], "?") {
			info, err := ctl.GetModeInfo(strings.TrimSuffix(parts[1], "?"))
			if err != nil {
				log.Printf("error: %v", err)
				return
			}
			for k, doc := range info {
				fmt.Printf("%-20s %s\n", k, doc)
			}
			return
		}
		params, err := parseAssignments(parts[2:])
		if err != nil {
			log.Printf("error: %v", err)
			return
		}
		if err := ctl.SetMode(ctx, name, params); err != nil {
			log.Printf("error: %v", err)
			return
		}
		log.Printf("switched to mode %q", name)

	case "param":
		if len(parts) != 3 {
			log.Println("usage: param <key> <value>")
			return
		}
		v, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			log.Printf("error: %v", err)
			return
		}
		ctl.SetModeParam(parts[1], v)

	case "state":
		state := ctl.GetState()
		for k, v := range state {
			fmt.Printf("%-16s %v\n", k, v)
		}

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  modes                        - list registered modes")
		fmt.Println("  mode <name>?                 - show a mode's parameters")
		fmt.Println("  mode <name> [k=v ...]        - switch to a mode")
		fmt.Println("  param <key> <value>          - patch a parameter on the running mode")
		fmt.Println("  state                        - show the running mode's live state")
		fmt.Println("  help                         - show this help")

	default:
		log.Printf("unknown command: %s (try 'help')", parts[0])
	}
}

func readlineLoop(ctx context.Context, cancel context.CancelFunc, rl *readline.Instance, commandChan chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// Run starts the console and blocks until ctx is cancelled or stdin closes.
func Run(ctx context.Context, cancel context.CancelFunc, ctl Control) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "invctl> ",
		HistoryFile: historyFilePath(),
	})
	if err != nil {
		return fmt.Errorf("cli: readline init: %w", err)
	}
	defer rl.Close()

	w := &readlineWriter{rl: rl}
	log.SetOutput(w)
	defer log.SetOutput(os.Stderr)

	log.Println("console ready (type 'help' for commands)")

	commandChan := make(chan string, 10)
	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleCommand(ctx, cmd, ctl)
		case <-ctx.Done():
			log.Println("console stopped")
			return nil
		}
	}
}

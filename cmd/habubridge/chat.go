package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/habubridge/habubridge/internal/agent"
	"github.com/habubridge/habubridge/internal/cache"
	"github.com/habubridge/habubridge/internal/models"
	"github.com/habubridge/habubridge/internal/tools"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	sessionID string
	verbose   bool
	noColor   bool
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var co chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to your clean rooms from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "error"
			if co.verbose {
				level = "debug"
			}
			cfg, logger, err := opts.load(level)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			repl := &chatREPL{
				dispatcher: a.dispatcher,
				registry:   a.registry,
				cache:      a.cache,
				out:        cmd.OutOrStdout(),
				color:      !co.noColor && os.Getenv("NO_COLOR") == "" && isTerminal(os.Stdout),
				sessionID:  co.sessionID,
				mode:       a.client.Name(),
			}
			return repl.Run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&co.sessionID, "session", "", "resume a session id")
	cmd.Flags().BoolVarP(&co.verbose, "verbose", "v", false, "log to stderr while chatting")
	cmd.Flags().BoolVar(&co.noColor, "no-color", false, "disable colors")
	return cmd
}

// chatREPL reads one request per line and prints the dispatcher reply
type chatREPL struct {
	dispatcher *agent.Dispatcher
	registry   *tools.Registry
	cache      *cache.Cache
	out        io.Writer
	color      bool
	sessionID  string
	mode       string

	turns int
}

// Run loops until EOF, /exit or ctx is cancelled
func (r *chatREPL) Run(ctx context.Context, in io.Reader) error {
	if r.sessionID == "" {
		r.sessionID = uuid.NewString()
	}
	r.printBanner()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, colorize("You: ", colorGreen, r.color))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := r.handleCommand(ctx, input); quit {
				return nil
			}
			continue
		}

		r.ask(ctx, input)
	}
}

func (r *chatREPL) ask(ctx context.Context, input string) {
	var spin *spinner
	if r.color {
		spin = newSpinner(r.out, "Working on it...")
		spin.Start()
	}

	start := time.Now()
	turn := r.dispatcher.Process(ctx, r.sessionID, input)
	if spin != nil {
		spin.Stop()
	}
	r.turns++

	label := colorize("Habu:", colorBold, r.color)
	reply := turn.ReplyText
	if turn.State == models.StateError {
		reply = colorize(reply, colorRed, r.color)
	}
	fmt.Fprintf(r.out, "\n%s %s\n", label, reply)

	meta := fmt.Sprintf("⏱ %.2fs | %s", time.Since(start).Seconds(), turn.ResolvedAction)
	if turn.Cached {
		meta += " | " + colorize("cached", colorYellow, r.color)
	}
	fmt.Fprintf(r.out, "%s\n\n", colorize(meta, colorGray, r.color))
}

// handleCommand runs a slash command and reports whether to quit
func (r *chatREPL) handleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)

	switch parts[0] {
	case "/help":
		fmt.Fprintln(r.out, "\nCommands: /help /tools /history /stats /new /clear /exit")
		fmt.Fprintln(r.out, "Try: \"show me my partners\", \"run template CRQ-00102\", \"is it done?\"")
		fmt.Fprintln(r.out)
	case "/tools":
		fmt.Fprintln(r.out)
		for _, t := range r.registry.List() {
			fmt.Fprintf(r.out, "  • %-20s %s\n", t.Name(), t.Description())
		}
		fmt.Fprintln(r.out)
	case "/history":
		turns := r.dispatcher.Sessions().Snapshot(r.sessionID).Turns
		if len(turns) == 0 {
			fmt.Fprintln(r.out, "\nNo history")
			fmt.Fprintln(r.out)
			return false
		}
		fmt.Fprintln(r.out, "\n=== History ===")
		for i, msg := range turns {
			fmt.Fprintf(r.out, "%d. %s: %s\n", i+1, msg.Role, truncate(msg.Content, 60))
		}
		fmt.Fprintln(r.out)
	case "/stats":
		session := r.dispatcher.Sessions().Snapshot(r.sessionID)
		fmt.Fprintf(r.out, "\nSession: %s\nTurns: %d\n", r.sessionID, r.turns)
		if session.LastQueryID != "" {
			fmt.Fprintf(r.out, "Last query: %s\n", session.LastQueryID)
		}
		if r.cache != nil {
			stats := r.cache.Stats(ctx)
			fmt.Fprintf(r.out, "Cache: %s (connected=%t) hits=%d misses=%d keys=%d\n",
				stats.Backend, stats.Connected, stats.Hits, stats.Misses, stats.TotalKeys)
		}
		fmt.Fprintln(r.out)
	case "/clear", "/new":
		r.sessionID = uuid.NewString()
		r.turns = 0
		fmt.Fprintln(r.out, "✓ Started a new conversation")
		fmt.Fprintln(r.out)
	case "/exit", "/quit":
		fmt.Fprintln(r.out, "Goodbye!")
		return true
	default:
		fmt.Fprintf(r.out, "Unknown command %s, try /help\n\n", parts[0])
	}
	return false
}

func (r *chatREPL) printBanner() {
	banner := fmt.Sprintf(`
╔═════════════════════════════════════════════════════════╗
║              habubridge chat %-26s ║
╚═════════════════════════════════════════════════════════╝
`, version)
	fmt.Fprintln(r.out, colorize(banner, colorCyan, r.color))
	fmt.Fprintf(r.out, "✓ Client: %s | Classifier: %s\n", r.mode, r.dispatcher.ClassifierName())
	fmt.Fprintln(r.out, "Type /help for commands.")
	fmt.Fprintln(r.out)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

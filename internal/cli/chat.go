package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ashureev/interview-room/internal/config"
	"github.com/ashureev/interview-room/internal/interview"
	"github.com/ashureev/interview-room/internal/shared"
)

const chatHelp = "Type your answer and press Enter. Commands: /start, /reset, /end, /quit"

func newChatCmd(opts *options) *cobra.Command {
	var opening string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run a text-only interview in the terminal",
		Long: `Run an interview without speech devices. The current session is
remembered in --state-file and resumed on the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, opening, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opening, "opening", config.DefaultOpeningLine, "Opening line used by /start")
	return cmd
}

func runChat(ctx context.Context, opts *options, opening string, in io.Reader, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printer := newTranscriptPrinter(out, errOut)
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctrl := interview.NewController(
		interview.Config{OpeningLine: opening},
		opts.client(),
		interview.NewFileStore(opts.stateFile),
		interview.Devices{},
		interview.WithNotifier(printer),
		interview.WithLogger(logger),
	)
	go func() { _ = ctrl.Run(ctx) }()
	ctrl.Restore()

	fmt.Fprintln(out, chatHelp)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit", "/exit":
			return nil
		case "/start":
			ctrl.Start()
		case "/reset":
			ctrl.Reset()
		case "/end":
			ctrl.End()
			fmt.Fprintln(out, "interview ended")
		case "/help":
			fmt.Fprintln(out, chatHelp)
		default:
			ctrl.SubmitText(line)
		}
	}
	return scanner.Err()
}

// transcriptPrinter writes each new message once and reports errors.
type transcriptPrinter struct {
	out    io.Writer
	errOut io.Writer

	mu      sync.Mutex
	session string
	printed map[string]bool
	waiting bool
}

func newTranscriptPrinter(out, errOut io.Writer) *transcriptPrinter {
	return &transcriptPrinter{out: out, errOut: errOut, printed: make(map[string]bool)}
}

func (p *transcriptPrinter) OnState(s interview.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.SessionID != p.session {
		p.session = s.SessionID
		p.printed = make(map[string]bool)
		fmt.Fprintf(p.out, "-- %s --\n", s.SessionID)
	}
	for _, m := range s.Messages {
		if p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		fmt.Fprintf(p.out, "%s: %s\n", speaker(string(m.Role)), m.Content)
	}
	if s.AwaitingReply && !p.waiting {
		fmt.Fprintln(p.out, "interviewer is thinking...")
	}
	p.waiting = s.AwaitingReply
}

func (p *transcriptPrinter) OnError(err error) {
	fmt.Fprintf(p.errOut, "error (%s): %s\n", shared.KindOf(err), shared.MessageOf(err))
}

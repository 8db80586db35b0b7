package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/finance-assistant/internal/app"
	"github.com/dvloznov/finance-assistant/internal/assistant"
	"github.com/dvloznov/finance-assistant/internal/config"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/dvloznov/finance-assistant/internal/logger"
	"github.com/dvloznov/finance-assistant/internal/normalizer"
	"github.com/dvloznov/finance-assistant/internal/notify"
	"github.com/google/subcommands"
)

var commands = []subcommands.Command{
	&sayCmd{},
	&receiptCmd{},
	&voiceCmd{},
	&listCmd{},
	&deleteCmd{},
	&exportCmd{},
	&importCmd{},
	&personaCmd{},
}

// drainTimeout bounds how long a command waits for background writes.
const drainTimeout = 30 * time.Second

// withSession builds the application, signs the -user in, runs fn, waits
// for background writes and prints any notifications raised on the way.
func withSession(ctx context.Context, out io.Writer, fn func(ctx context.Context, a *app.App) error) subcommands.ExitStatus {
	if *userID == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		return subcommands.ExitUsageError
	}

	log := logger.New()
	cfg := config.Load(log)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	log = logger.WithLevel(logger.ForFormat(cfg.LogFormat), cfg.LogLevel)
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log, app.Overrides{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	sess := domain.Session{ID: *userID, DisplayName: *displayName}
	if err := a.Sessions.Begin(ctx, sess); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.Close(drainTimeout)
		return subcommands.ExitFailure
	}

	status := subcommands.ExitSuccess
	if err := fn(ctx, a); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		status = subcommands.ExitFailure
	}

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	if err := a.Queue.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Background writes still pending")
	}
	cancel()

	notes, _ := a.Assistant.Notifications()
	printNotifications(out, notes)

	if err := a.Close(drainTimeout); err != nil {
		log.Error().Err(err).Msg("Error closing application")
	}
	return status
}

func printNotifications(out io.Writer, notes []notify.Notification) {
	for _, n := range notes {
		fmt.Fprintf(out, "[%s] %s\n", strings.ToUpper(string(n.Level)), n.Message)
	}
}

func printResult(out io.Writer, res *assistant.Result, currency string) {
	fmt.Fprintln(out, res.Outcome.Reply)
	if res.Transaction != nil {
		fmt.Fprintf(out, "Added: %s\n", formatTransaction(*res.Transaction, currency))
	}
}

func formatTransaction(tx domain.Transaction, currency string) string {
	return fmt.Sprintf("%s  %-10s %-12s %12s  %s",
		tx.Date.Local().Format("2006-01-02"),
		tx.Type,
		tx.Category,
		domain.FormatAmount(tx.Signed(), currency),
		tx.Description)
}

// blobFromFile reads path and picks a MIME type from its extension, falling
// back to content sniffing.
func blobFromFile(path string) (*normalizer.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &normalizer.Blob{MIMEType: mimeType, Data: data}, nil
}

func submit(ctx context.Context, a *app.App, in assistant.Input) error {
	res, err := a.Assistant.Submit(ctx, in)
	if err != nil {
		return err
	}
	printResult(os.Stdout, res, a.Sessions.Settings().Currency)
	return nil
}

type sayCmd struct{}

func (*sayCmd) Name() string     { return "say" }
func (*sayCmd) Synopsis() string { return "send a text message to the assistant" }
func (*sayCmd) Usage() string {
	return `say <text>

  Sends free text such as "coffee 4.50" to the assistant. Recognised
  purchases and income are added to the ledger.
`
}
func (*sayCmd) SetFlags(*flag.FlagSet) {}

func (*sayCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	text := strings.Join(f.Args(), " ")
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(os.Stderr, "Error: text is required")
		return subcommands.ExitUsageError
	}
	return withSession(ctx, os.Stdout, func(ctx context.Context, a *app.App) error {
		return submit(ctx, a, assistant.Input{Text: text})
	})
}

type receiptCmd struct {
	file string
	text string
}

func (*receiptCmd) Name() string     { return "receipt" }
func (*receiptCmd) Synopsis() string { return "send a receipt image to the assistant" }
func (*receiptCmd) Usage() string {
	return `receipt -file <image> [-text <note>]

  Sends a photo of a receipt, optionally with a note.
`
}

func (c *receiptCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "path to the receipt image")
	f.StringVar(&c.text, "text", "", "optional note sent with the image")
}

func (c *receiptCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		return subcommands.ExitUsageError
	}
	img, err := blobFromFile(c.file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return withSession(ctx, os.Stdout, func(ctx context.Context, a *app.App) error {
		return submit(ctx, a, assistant.Input{Text: c.text, Image: img})
	})
}

type voiceCmd struct {
	file string
}

func (*voiceCmd) Name() string     { return "voice" }
func (*voiceCmd) Synopsis() string { return "send a voice note to the assistant" }
func (*voiceCmd) Usage() string {
	return `voice -file <audio>

  Sends a recorded voice note.
`
}

func (c *voiceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "path to the audio recording")
}

func (c *voiceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		return subcommands.ExitUsageError
	}
	audio, err := blobFromFile(c.file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return withSession(ctx, os.Stdout, func(ctx context.Context, a *app.App) error {
		return submit(ctx, a, assistant.Input{Audio: audio})
	})
}

type listCmd struct{}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list the ledger, newest first" }
func (*listCmd) Usage() string {
	return `list

  Prints every transaction with its id, newest first.
`
}
func (*listCmd) SetFlags(*flag.FlagSet) {}

func (*listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSession(ctx, os.Stdout, func(ctx context.Context, a *app.App) error {
		txs, err := a.Assistant.Transactions()
		if err != nil {
			return err
		}
		currency := a.Sessions.Settings().Currency
		for i := len(txs) - 1; i >= 0; i-- {
			fmt.Printf("%s  %s\n", txs[i].ID, formatTransaction(txs[i], currency))
		}
		fmt.Printf("%d transaction(s)\n", len(txs))
		return nil
	})
}

type deleteCmd struct {
	id string
}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "delete a transaction by id" }
func (*deleteCmd) Usage() string {
	return `delete -id <transaction id>
`
}

func (c *deleteCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "id of the transaction to delete")
}

func (c *deleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.id == "" {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		return subcommands.ExitUsageError
	}
	return withSession(ctx, os.Stdout, func(ctx context.Context, a *app.App) error {
		if err := a.Assistant.DeleteTransaction(ctx, c.id); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", c.id)
		return nil
	})
}

type exportCmd struct {
	out string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write a JSON backup of the ledger" }
func (*exportCmd) Usage() string {
	return `export -out <path | gs://bucket/object>

  Writes the ledger as a JSON array to a local file or a GCS object.
  Use -out - for standard output.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "out", "-", "destination path or gs:// URI")
}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	// Notifications go to stderr so a piped backup stays valid JSON.
	return withSession(ctx, os.Stderr, func(ctx context.Context, a *app.App) error {
		if c.out == "-" {
			data, err := a.Assistant.Export()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := a.Assistant.ExportTo(ctx, c.out); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d transaction(s) to %s\n", a.Ledger.Len(), c.out)
		return nil
	})
}

type importCmd struct {
	in string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "replace the ledger with a JSON backup" }
func (*importCmd) Usage() string {
	return `import -in <path | gs://bucket/object>

  Replaces every transaction with the contents of the backup. A backup
  that fails validation changes nothing.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.in, "in", "", "source path or gs:// URI")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.in == "" {
		fmt.Fprintln(os.Stderr, "Error: -in is required")
		return subcommands.ExitUsageError
	}
	return withSession(ctx, os.Stdout, func(ctx context.Context, a *app.App) error {
		n, err := a.Assistant.ImportFrom(ctx, c.in)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d transaction(s)\n", n)
		return nil
	})
}

type personaCmd struct {
	set      string
	currency string
}

func (*personaCmd) Name() string     { return "persona" }
func (*personaCmd) Synopsis() string { return "show or change the assistant persona" }
func (*personaCmd) Usage() string {
	return `persona [-set <text>] [-currency <ISO code>]

  Without flags, prints the current settings.
`
}

func (c *personaCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.set, "set", "", "new persona text")
	f.StringVar(&c.currency, "currency", "", "display currency, e.g. EUR")
}

func (c *personaCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSession(ctx, os.Stdout, func(ctx context.Context, a *app.App) error {
		s, err := a.Assistant.Settings()
		if err != nil {
			return err
		}
		if c.set == "" && c.currency == "" {
			printSettings(os.Stdout, s)
			return nil
		}
		if c.set != "" {
			s.PersonaText = c.set
		}
		if c.currency != "" {
			s.Currency = c.currency
		}
		applied, _, err := a.Assistant.UpdateSettings(ctx, s)
		if err != nil {
			return err
		}
		printSettings(os.Stdout, applied)
		return nil
	})
}

func printSettings(out io.Writer, s domain.Settings) {
	persona := s.PersonaText
	if persona == "" {
		persona = "(none)"
	}
	fmt.Fprintf(out, "Persona:  %s\nCurrency: %s\n", persona, s.Currency)
}

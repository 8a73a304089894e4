// Package main is the interactive chat client.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/threadchat/internal/api"
	"github.com/capitalize-ai/threadchat/internal/auth"
	"github.com/capitalize-ai/threadchat/internal/chat"
	"github.com/capitalize-ai/threadchat/internal/config"
	"github.com/capitalize-ai/threadchat/internal/events"
	"github.com/capitalize-ai/threadchat/pkg/logger"
	"github.com/capitalize-ai/threadchat/pkg/tracing"
)

var version = "dev"

type options struct {
	threadID string
	model    string
	apiURL   string
	verbose  bool
}

func main() {
	_ = godotenv.Load(".env")
	if err := newRootCmd(config.Load()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an assistant thread from the terminal",
		Long: `chat reads one message per line from stdin and streams the assistant's
reply as it arrives. Ctrl-C cancels the reply in progress; pressing it again
while idle quits.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.apiURL != "" {
				cfg.Client.APIURL = opts.apiURL
			}
			if opts.model != "" {
				cfg.Client.DefaultModel = opts.model
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.Flags()
	flags.StringVar(&opts.threadID, "thread", "", "continue an existing thread instead of starting a new one")
	flags.StringVar(&opts.model, "model", "", "model to request (default $CHAT_DEFAULT_MODEL)")
	flags.StringVar(&opts.apiURL, "api-url", "", "thread API base URL (default $CHAT_API_URL)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func run(parent context.Context, cfg *config.Config, opts options, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	out = &lockedWriter{w: out}

	level := cfg.LogLevel
	if opts.verbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "threadchat-cli", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	client := api.NewClient(cfg.Client.APIURL,
		api.WithTokenSource(tokenSource(cfg)),
		api.WithRequestTimeout(cfg.Client.RequestTimeout),
		api.WithLogger(log),
	)

	ctrlOpts := []chat.Option{
		chat.WithLogger(log),
		chat.WithDefaultModel(cfg.Client.DefaultModel),
		chat.WithSystemPrompt(cfg.Client.SystemPrompt),
		chat.WithIdleTimeout(cfg.Client.StreamIdleTimeout),
	}
	if cfg.EventsEnabled {
		sink, closeSink, err := connectSink(ctx, cfg, log)
		if err != nil {
			log.Warn("exchange events disabled", zap.Error(err))
		} else {
			defer closeSink()
			ctrlOpts = append(ctrlOpts, chat.WithEventSink(sink))
		}
	}

	p := newPrinter(out)

	// A resumed thread starts from its stored transcript so the title is
	// not generated a second time.
	if opts.threadID != "" {
		history, err := client.ListMessages(ctx, opts.threadID)
		if err != nil {
			return fmt.Errorf("failed to load thread %s: %w", opts.threadID, err)
		}
		log.Debug("resumed thread", zap.String("thread_id", opts.threadID), zap.Int("messages", len(history)))
		ctrlOpts = append(ctrlOpts, chat.WithHistory(history))
		p.history(history)
	}

	c := chat.NewController(client, opts.threadID, ctrlOpts...)
	defer c.Close()
	c.Subscribe(p.update)

	// Ctrl-C cancels a reply in progress and quits otherwise.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-sigs:
				if c.Status().Active() {
					c.Cancel()
					continue
				}
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return chatLoop(ctx, c, opts.model, in, out)
}

// chatLoop sends each non-empty input line and waits for its exchange to end.
func chatLoop(ctx context.Context, c *chat.Controller, modelName string, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64<<10), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = l
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		ex, err := c.Send(ctx, line, modelName, nil)
		if err != nil {
			fmt.Fprintf(out, "[%v]\n", err)
			continue
		}
		select {
		case <-ex.Done():
		case <-ctx.Done():
			<-ex.Done()
			return nil
		}
	}
}

func tokenSource(cfg *config.Config) auth.TokenSource {
	if cfg.Client.APIToken != "" {
		return auth.StaticToken(cfg.Client.APIToken)
	}
	return auth.NewHMACTokenSource(cfg.JWTSecret, cfg.Client.UserID, cfg.Client.TenantID, cfg.JWTExpiration)
}

func connectSink(ctx context.Context, cfg *config.Config, log *logger.Logger) (events.Sink, func(), error) {
	client, err := events.Connect(ctx, events.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	sink := events.NewJetStreamSink(client)
	if err := sink.EnsureStream(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return sink, client.Close, nil
}

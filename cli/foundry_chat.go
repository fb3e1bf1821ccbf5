package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hypernetix/foundry-chat-go/pkg/config"
	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
	"github.com/hypernetix/foundry-chat-go/pkg/session"
)

// Version is the CLI version.
const Version = "0.1.0"

type globalOptions struct {
	configPath string
	host       string
	port       int
	verbose    bool
	trace      bool
}

// reportedError has already been written to the result stream.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "foundry-chat",
		Short:         "Chat with models served by a local inference service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "foundry-chat.toml", "Path to the TOML or YAML configuration file")
	flags.StringVar(&opts.host, "host", "", "Inference service host (default: discover)")
	flags.IntVar(&opts.port, "port", 0, fmt.Sprintf("Inference service port (default: %d)", foundry.DefaultAPIPorts[0]))
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&opts.trace, "trace", false, "Enable trace logging")

	root.AddCommand(
		newVersionCmd(),
		newStatusCmd(opts),
		newModelsCmd(opts),
		newLoadCmd(opts),
		newUnloadCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
	)
	return root
}

func loadConfig(opts *globalOptions) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config %s: %w", opts.configPath, err)
	}
	if opts.host != "" {
		cfg.Foundry.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Foundry.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logging.New(cfg.LogLevel())
	if opts.verbose {
		logger.SetLevel(logging.LevelDebug)
	}
	if opts.trace {
		logger.SetLevel(logging.LevelTrace)
	}
	return cfg, logger, nil
}

func newClient(ctx context.Context, opts *globalOptions) (*foundry.Client, string, *config.Config, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, "", nil, err
	}
	addr, err := session.ServiceAddress(ctx, cfg.Foundry, logger)
	if err != nil {
		return nil, "", nil, fmt.Errorf("could not find the inference service, try to set host and port explicitly: %w", err)
	}
	logger.Debug("Using inference service at %s", addr)
	client := foundry.NewClient(addr, logger,
		foundry.WithStartCommand(cfg.Foundry.StartCommand),
		foundry.WithStopCommand(cfg.Foundry.StopCommand),
	)
	return client, addr, cfg, nil
}

// facadeRun is a facade bound to the command output. close must be called
// before the command returns; it shuts the session down.
type facadeRun struct {
	*session.Facade
	cfg   *config.Config
	close func() error
}

func newFacade(cmd *cobra.Command, opts *globalOptions) (*facadeRun, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	notifier := session.FuncNotifier{
		OnProgress: func(msg string) { fmt.Fprintln(out, msg) },
		OnResult:   func(msg string) { fmt.Fprint(out, msg) },
	}

	registry := prometheus.NewRegistry()
	stopMetrics := func() {}
	if cfg.Metrics.Addr != "" {
		stopMetrics = serveMetrics(cfg.Metrics.Addr, registry, logger)
	}

	f, err := session.NewFromConfig(cmd.Context(), cfg, notifier, registry, logger)
	if err != nil {
		stopMetrics()
		return nil, err
	}
	return &facadeRun{
		Facade: f,
		cfg:    cfg,
		close: func() error {
			defer stopMetrics()
			// shutdown runs to completion even after an interrupt
			return f.Shutdown(context.WithoutCancel(cmd.Context()))
		},
	}, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger logging.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Foundry Chat CLI version: %s\n", Version)
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the inference service is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			client, addr, _, err := newClient(cmd.Context(), opts)
			if err != nil {
				fmt.Fprintln(out, "Inference service status: NOT RUNNING")
				return err
			}
			defer client.Close()

			if _, err := client.CheckStatus(cmd.Context()); err != nil {
				fmt.Fprintf(out, "Inference service status: ERROR - %v\n", err)
				return reportedError{err}
			}
			fmt.Fprintf(out, "Inference service status: RUNNING @ %s\n", addr)
			return nil
		},
	}
}

func newModelsCmd(opts *globalOptions) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog and what is cached locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f, err := newFacade(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, f.close()) }()

			models, err := f.ListModels(cmd.Context())
			if err != nil {
				return reportedError{err}
			}
			return printModels(cmd.OutOrStdout(), models, f.cfg.OpenAI.ModelID, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

func newLoadCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <model>",
		Short: "Download a model if needed and load it into the service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, cfg, err := newClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()
			return loadModelWithProgress(cmd.Context(), cmd.OutOrStdout(), client, args[0], cfg.Foundry.LoadModelTimeout())
		},
	}
}

// loadModelWithProgress downloads the model with a progress bar when it is
// not cached and then loads it.
func loadModelWithProgress(ctx context.Context, out io.Writer, client *foundry.Client, modelID string, timeout time.Duration) error {
	cached, err := client.ListCachedModels(ctx)
	if err != nil {
		return err
	}
	isCached := false
	for _, m := range cached {
		if m.ID == modelID {
			isCached = true
			break
		}
	}

	if !isCached {
		fmt.Fprintf(out, "Downloading model \"%s\" ...\n", modelID)
		stream, err := client.Download(ctx, modelID)
		if err != nil {
			return err
		}
		defer stream.Close()
		for {
			p, err := stream.Recv(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				fmt.Fprintf(out, "\nFailed to download model: %v\n", err)
				return reportedError{err}
			}
			displayProgressBar(out, p.Percentage)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "Loading model \"%s\" ...\n", modelID)
	m, err := client.Load(ctx, modelID, timeout)
	if err != nil {
		fmt.Fprintf(out, "Failed to load model: %v\n", err)
		return reportedError{err}
	}
	fmt.Fprintf(out, "✓ Model loaded successfully: %s (%s)\n", m.DisplayName, m.InstanceReference)
	return nil
}

func newUnloadCmd(opts *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "unload [model]",
		Short: "Unload a model, or every loaded model with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("please provide a model identifier or --all")
			}
			client, _, _, err := newClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			if all {
				fmt.Fprintln(out, "Unloading all loaded models...")
				if err := client.UnloadAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "Unloaded all models successfully")
				return nil
			}
			fmt.Fprintf(out, "Unloading model: %s\n", args[0])
			if err := client.Unload(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Model %s unloaded successfully\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Unload all loaded models")
	return cmd
}

// selectModel returns the requested model or the configured preselection.
func selectModel(ctx context.Context, out io.Writer, f *facadeRun, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	models, err := f.ListModels(ctx)
	if err != nil {
		return "", reportedError{err}
	}
	m, ok := session.PreferredModel(models, f.cfg.OpenAI.ModelID)
	if !ok {
		return "", errors.New("the service offers no models")
	}
	fmt.Fprintf(out, "No model specified, using %s\n", m.ID)
	return m.ID, nil
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	var model string
	var web bool
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f, err := newFacade(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, f.close()) }()

			ctx := cmd.Context()
			modelID, err := selectModel(ctx, cmd.OutOrStdout(), f, model)
			if err != nil {
				return err
			}
			if err := f.LoadModel(ctx, modelID); err != nil {
				return reportedError{err}
			}
			if err := f.Send(ctx, strings.Join(args, " "), web); err != nil {
				return reportedError{err}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to use (default: openai.model_id or the first catalog entry)")
	cmd.Flags().BoolVar(&web, "web", false, "Augment the question with web search results")
	return cmd
}

func newChatCmd(opts *globalOptions) *cobra.Command {
	var model string
	var web bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat with a model.

Commands:
  /web           toggle web search augmentation
  /model <id>    switch to another model (starts a new conversation)
  /quit          exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f, err := newFacade(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, f.close()) }()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			modelID, err := selectModel(ctx, out, f, model)
			if err != nil {
				return err
			}
			if err := f.LoadModel(ctx, modelID); err != nil {
				return reportedError{err}
			}
			return runREPL(ctx, cmd.InOrStdin(), out, f.Facade, web)
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to use (default: openai.model_id or the first catalog entry)")
	cmd.Flags().BoolVar(&web, "web", false, "Start with web search enabled")
	return cmd
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// runREPL reads one message per line until EOF, /quit or interrupt. Failed
// sends are already on the result stream and do not end the chat.
func runREPL(ctx context.Context, in io.Reader, out io.Writer, f *session.Facade, web bool) error {
	fmt.Fprintf(out, "Chatting with %s. Web search %s. Type /quit to exit.\n", f.ActiveModelDisplayName(), onOff(web))
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/web":
			web = !web
			fmt.Fprintf(out, "Web search %s\n", onOff(web))
		case strings.HasPrefix(line, "/model "):
			_ = f.LoadModel(ctx, strings.TrimPrefix(line, "/model "))
		default:
			_ = f.Send(ctx, line, web)
		}
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

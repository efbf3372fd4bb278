package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"supplyintel/internal/domain"
	"supplyintel/internal/infra/config"
	"supplyintel/internal/infra/logger"
	"supplyintel/internal/infra/tracer"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\nRun 'supplyintel --help' for usage information.\n", err)
		os.Exit(2)
	}

	switch opts.command {
	case "help":
		showUsage()
		return
	case "version":
		fmt.Println("supplyintel", version)
		return
	case "encrypt":
		err = runEncrypt(opts, os.Stdout)
	case "query":
		err = runQuery(opts, os.Stdout)
	default:
		err = runServe(opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", opts.command, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`supplyintel - supply-chain intelligence service

USAGE:
    supplyintel [COMMAND] [FLAGS]

COMMANDS:
    serve              Run the HTTP API and watch scheduler (default)
    query "<text>"     Run one coordinator request and print the JSON response
    encrypt <value>    Encrypt a secret for use as an "enc:" config value
    version            Print the version

FLAGS:
    -h, --help          Show this help message
    --config PATH       Config file path (default: ./config.yaml, or $SUPPLYINTEL_CONFIG)
    --intent KEY        Explicit intent for query (e.g. analyze_risks)

CONFIGURATION:
    Environment: SUPPLYINTEL_* variables override config.
    Provider keys: GEMINI_API_KEY, TAVILY_API_KEY, AWS_REGION.
    Secrets: SUPPLYINTEL_CONFIG_KEY decrypts "enc:" values.`)
}

type cliOptions struct {
	command    string
	configPath string
	intent     string
	args       []string
}

// parseArgs splits the command, its positional args, and the global flags.
func parseArgs(argv []string) (cliOptions, error) {
	opts := cliOptions{command: "serve", configPath: os.Getenv("SUPPLYINTEL_CONFIG")}
	if opts.configPath == "" {
		opts.configPath = "config.yaml"
	}

	commandSet := false
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "-h" || arg == "--help" || arg == "help":
			opts.command = "help"
			return opts, nil
		case arg == "--config" || arg == "--intent":
			if i+1 >= len(argv) {
				return opts, fmt.Errorf("%s needs a value", arg)
			}
			i++
			if arg == "--config" {
				opts.configPath = argv[i]
			} else {
				opts.intent = argv[i]
			}
		case strings.HasPrefix(arg, "--config="):
			opts.configPath = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "--intent="):
			opts.intent = strings.TrimPrefix(arg, "--intent=")
		case strings.HasPrefix(arg, "-"):
			return opts, fmt.Errorf("unknown flag: %s", arg)
		case !commandSet:
			switch arg {
			case "serve", "query", "encrypt", "version":
				opts.command = arg
				commandSet = true
			default:
				return opts, fmt.Errorf("unknown command: %s", arg)
			}
		default:
			opts.args = append(opts.args, arg)
		}
	}
	return opts, nil
}

func runServe(opts cliOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, version)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	log.Info("supplyintel starting",
		"version", version,
		"completion", a.completion.Name(),
		"search", a.search.Name(),
		"history", a.history != nil,
		"watch_tasks", len(cfg.Watch.Tasks),
		"addr", cfg.Gateway.Addr,
	)
	return a.gateway.Start(ctx)
}

func runQuery(opts cliOptions, out io.Writer) error {
	query := strings.TrimSpace(strings.Join(opts.args, " "))
	if query == "" {
		return fmt.Errorf("usage: supplyintel query \"<text>\"")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// One-shot runs keep stdout for the JSON result.
	if cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}
	cfg.Watch.Enabled = false

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	resp, err := a.coordinator.Process(ctx, domain.CoordinatorRequest{
		Query:  query,
		Intent: domain.IntentKey(opts.intent),
		Origin: "cli",
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// runEncrypt reads the passphrase from SUPPLYINTEL_CONFIG_KEY or prompts for it.
func runEncrypt(opts cliOptions, out io.Writer) error {
	if len(opts.args) != 1 {
		return fmt.Errorf("usage: supplyintel encrypt <value>")
	}
	passphrase := os.Getenv(config.ConfigKeyEnv)
	if passphrase == "" {
		p, err := readPassphrase()
		if err != nil {
			return err
		}
		passphrase = p
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase is required")
	}
	enc, err := config.EncryptValue(opts.args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "enc:%s\n", enc)
	return nil
}

func readPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	defer fmt.Fprintln(os.Stderr)
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/jimmychuckball/pythonmap/config"
	"github.com/jimmychuckball/pythonmap/logging"
	"github.com/jimmychuckball/pythonmap/output"
	"github.com/jimmychuckball/pythonmap/scanner"
	"github.com/jimmychuckball/pythonmap/ui"
)

// Run is the main entry point for the CLI application.
// It parses command-line flags and arguments, validates them,
// and orchestrates the scanning process.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

type options struct {
	configPath   string
	outFile      string
	jsonOutput   bool
	noTUI        bool
	retries      int
	timeout      time.Duration
	concurrency  int
	servicesFile string
	network      string
	logLevel     string
	logFormat    string
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pythonmap", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.outFile, "o", "", "Save results to this file")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Output results in JSON format")
	fs.BoolVar(&opts.noTUI, "no-tui", false, "Disable the interactive progress view")
	fs.IntVar(&opts.retries, "retries", scanner.DefaultMaxRetries, "Connection attempts per port")
	fs.DurationVar(&opts.timeout, "timeout", scanner.DefaultConnectTimeout, "Per-attempt connect and read timeout")
	fs.IntVar(&opts.concurrency, "concurrency", scanner.DefaultMaxConcurrency, "Maximum in-flight connection attempts")
	fs.StringVar(&opts.servicesFile, "services", "", "services(5) file used to name open ports")
	fs.StringVar(&opts.network, "network", "", "tcp, tcp4 or tcp6")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&opts.logFormat, "log-format", "", "text or json diagnostics on stderr (default text)")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	applyFlags(fs, &opts, cfg)

	// Diagnostics share the terminal with results, so text unless asked otherwise.
	logFormat := cfg.Output.LogFormat
	if logFormat == "" {
		logFormat = "text"
	}
	logger := logging.New(logging.Options{
		Level:  cfg.Output.LogLevel,
		Format: logFormat,
		Output: stderr,
	})

	prompt := newPrompter(stdin, stdout)
	positional := fs.Args()

	host := cfg.Scan.Host
	if len(positional) > 0 {
		host = positional[0]
	}
	if host == "" {
		host = prompt.ask("Enter the IP to scan: ")
	}

	portSpec := cfg.Scan.Ports
	if len(positional) > 1 {
		portSpec = positional[1]
	}
	if portSpec == "" {
		portSpec = prompt.ask("Enter port range (e.g. '20-100'): ")
	}

	if prompt.used && cfg.Output.File == "" {
		cfg.Output.File = prompt.ask("Enter the filename to save the results (blank to skip): ")
	}

	if host == "" {
		fmt.Fprintf(stderr, "Error: %v\n", scanner.ErrNoHost)
		return 2
	}
	startPort, endPort, err := scanner.ParsePortRange(portSpec)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	policy := cfg.Policy()
	if err := policy.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	resolver := scanner.LoadResolver(cfg.Scan.Services, logger)
	connector := &scanner.ConnectProbe{Network: cfg.Scan.Network}
	if err := connector.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	coordinator := scanner.NewCoordinator(scanner.NewRetryingScanner(connector, logger), resolver, logger)

	if !cfg.Output.JSON {
		fmt.Fprintf(stdout, "Starting scan on %s for ports %d to %d\n", host, startPort, endPort)
	}

	var results []scanner.ScanResult
	switch {
	case cfg.Output.JSON:
		results, err = coordinator.ScanRange(ctx, host, startPort, endPort, policy, nil)
	case !cfg.Output.NoTUI && isTerminal(stdout):
		results, err = runTUI(ctx, coordinator, host, portSpec, startPort, endPort, policy, stdin, stdout)
	default:
		results, err = coordinator.ScanRange(ctx, host, startPort, endPort, policy, newTextObserver(stdout))
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	scanner.SortByPort(results)

	if cfg.Output.JSON {
		if err := outputJSON(stdout, results); err != nil {
			fmt.Fprintf(stderr, "Error encoding to JSON: %v\n", err)
			return 1
		}
	}

	if cfg.Output.File != "" {
		format := output.Text
		if cfg.Output.JSON {
			format = output.JSON
		}
		if err := output.SaveReport(cfg.Output.File, results, format); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if !cfg.Output.JSON {
			fmt.Fprintf(stdout, "Scan complete. Results saved to %s\n", cfg.Output.File)
		}
	} else if !cfg.Output.JSON {
		fmt.Fprintf(stdout, "Scan complete. %d open port(s) found\n", len(results))
	}
	return 0
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(fs *flag.FlagSet, opts *options, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "o":
			cfg.Output.File = opts.outFile
		case "json":
			cfg.Output.JSON = opts.jsonOutput
		case "no-tui":
			cfg.Output.NoTUI = opts.noTUI
		case "retries":
			cfg.Scan.Retries = opts.retries
		case "timeout":
			cfg.Scan.Timeout = config.Duration{Duration: opts.timeout}
		case "concurrency":
			cfg.Scan.Concurrency = opts.concurrency
		case "services":
			cfg.Scan.Services = opts.servicesFile
		case "network":
			cfg.Scan.Network = opts.network
		case "log-level":
			cfg.Output.LogLevel = opts.logLevel
		case "log-format":
			cfg.Output.LogFormat = opts.logFormat
		}
	})
}

func runTUI(ctx context.Context, coordinator *scanner.Coordinator, host, portSpec string, start, end int,
	policy scanner.Policy, stdin io.Reader, stdout io.Writer) ([]scanner.ScanResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(ui.NewModel(host, portSpec), tea.WithInput(stdin), tea.WithOutput(stdout))

	type scanDone struct {
		results []scanner.ScanResult
		err     error
	}
	finished := make(chan scanDone, 1)
	go func() {
		results, err := coordinator.ScanRange(ctx, host, start, end, policy, ui.Observer{Program: program})
		program.Send(ui.DoneMsg{Err: err})
		finished <- scanDone{results: results, err: err}
	}()

	final, err := program.Run()
	if err != nil {
		cancel()
		<-finished
		return nil, fmt.Errorf("terminal ui: %w", err)
	}
	if m, ok := final.(ui.Model); ok && m.Quitting() {
		cancel()
	}
	done := <-finished
	return done.results, done.err
}

// textObserver prints each open port as it is found plus progress lines.
type textObserver struct {
	*output.Sink
	w io.Writer
}

func newTextObserver(w io.Writer) *textObserver {
	return &textObserver{Sink: output.NewSink(output.NewTextFormatter(w)), w: w}
}

func (o *textObserver) OnProgress(completed, total int, percent float64) {
	fmt.Fprintf(o.w, "%.2f%% complete\n", percent)
}

// outputJSON marshals and prints results in JSON format.
func outputJSON(w io.Writer, results []scanner.ScanResult) error {
	jsonData, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(jsonData))
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// prompter reads answers to interactive questions line by line.
type prompter struct {
	in   *bufio.Reader
	out  io.Writer
	used bool
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) ask(question string) string {
	p.used = true
	fmt.Fprint(p.out, question)
	line, _ := p.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// printUsage displays the help message.
func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: pythonmap [flags] [host] [startPort-endPort]")
	fmt.Fprintln(w, "       pythonmap serve [-config file]")
	fmt.Fprintln(w, "Example: pythonmap 127.0.0.1 20-100")
	fmt.Fprintln(w, "Example: pythonmap -json -retries 2 -timeout 1s scanme.nmap.org 22-443")
	fmt.Fprintln(w, "Missing host or range are asked for interactively.")
	fmt.Fprintln(w)
	fs.PrintDefaults()
}

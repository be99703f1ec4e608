// Package config implements the command-line surface of spec.md §6: a
// go-flags struct for the process's CLI flags, overlaid with environment
// variables (via caarlos0/env) and an optional .env file (via godotenv) for
// any flag the operator did not explicitly pass — grounded on
// adred-codev-ws_poc's env/v11 + godotenv config loader, generalised from
// "env is the only source" to "flags beat env, env beats built-in
// defaults" per SPEC_FULL.md §4.8, since spec.md's external interface is a
// flag surface the teacher's config collaborator doesn't have an
// equivalent of.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/hervehildenbrand/aggie/internal/aggerr"
)

// DefaultClientsFile is used when -c/--clients is not given.
const DefaultClientsFile = "clients.txt"

// DefaultListenPort is the control server's default port, spec.md §6.
const DefaultListenPort = 17408

// Version is the build version reported by --version; overridden at link
// time in release builds (-ldflags "-X .../config.Version=...").
var Version = "dev"

// Options is the process's full CLI + env-overlay configuration.
type Options struct {
	Verbose []bool `short:"v" long:"verbose" description:"increase verbosity (repeatable)"`
	Quiet   []bool `short:"q" long:"quiet" description:"decrease verbosity (repeatable)"`

	ClientsFile  string `short:"c" long:"clients" default:"clients.txt" description:"path to the client list file"`
	ListenPort   int    `short:"l" long:"listen-port" default:"17408" description:"control server listen port"`
	PollInterval int    `short:"p" long:"poll-interval" default:"30" description:"poll interval in seconds (0 disables periodic polling)"`

	ShowVersion bool `long:"version" description:"print version and exit"`

	Args struct {
		PMURL string `positional-arg-name:"pm-url" description:"ws://host:port/path of the presentation manager"`
	} `positional-args:"yes"`
}

// Parsed is the validated, typed configuration the rest of the process
// consumes.
type Parsed struct {
	PMURL        *url.URL
	Verbosity    int // positive = more verbose, negative = quieter
	ClientsFile  string
	ListenPort   int
	PollInterval int // seconds; 0 disables periodic polling
	ShowVersion  bool
}

// envOverlay holds the subset of settings that may also come from the
// environment or a .env file. Fields are left at their zero value when the
// corresponding variable is unset; presence is checked separately with
// os.LookupEnv since a zero value (e.g. AGGIE_POLL_INTERVAL=0) is a valid
// setting in its own right, not evidence of absence.
type envOverlay struct {
	ClientsFile  string `env:"AGGIE_CLIENTS_FILE"`
	ListenPort   int    `env:"AGGIE_LISTEN_PORT"`
	PollInterval int    `env:"AGGIE_POLL_INTERVAL"`
}

// Load parses argv, then fills in any flag the operator did not explicitly
// pass from the environment (optionally loaded from a .env file first), and
// finally from the built-in defaults. Flags always win over environment,
// which always wins over defaults, per SPEC_FULL.md §4.8.
func Load(argv []string) (*Parsed, error) {
	var opts Options

	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "aggie"
	if _, err := parser.ParseArgs(argv); err != nil {
		if flags.WroteHelp(err) {
			return &Parsed{ShowVersion: false}, errHelpShown
		}
		return nil, err
	}

	if opts.ShowVersion {
		return &Parsed{ShowVersion: true}, nil
	}

	_ = godotenv.Load() // optional; environment variables still apply if absent

	var overlay envOverlay
	if err := env.Parse(&overlay); err != nil {
		return nil, fmt.Errorf("config: parsing environment overlay: %w", err)
	}

	clientsFile := opts.ClientsFile
	if !flagWasSet(parser, "clients") {
		if _, ok := os.LookupEnv("AGGIE_CLIENTS_FILE"); ok {
			clientsFile = overlay.ClientsFile
		}
	}

	listenPort := opts.ListenPort
	if !flagWasSet(parser, "listen-port") {
		if _, ok := os.LookupEnv("AGGIE_LISTEN_PORT"); ok {
			listenPort = overlay.ListenPort
		}
	}

	pollInterval := opts.PollInterval
	if !flagWasSet(parser, "poll-interval") {
		if _, ok := os.LookupEnv("AGGIE_POLL_INTERVAL"); ok {
			pollInterval = overlay.PollInterval
		}
	}

	if opts.Args.PMURL == "" {
		return nil, aggerr.ErrMissingPMURL
	}
	pmURL, err := url.Parse(opts.Args.PMURL)
	if err != nil || pmURL.Host == "" {
		return nil, fmt.Errorf("%w: %q", aggerr.ErrUnparseablePMURL, opts.Args.PMURL)
	}

	return &Parsed{
		PMURL:        pmURL,
		Verbosity:    len(opts.Verbose) - len(opts.Quiet),
		ClientsFile:  clientsFile,
		ListenPort:   listenPort,
		PollInterval: pollInterval,
	}, nil
}

// flagWasSet reports whether the operator explicitly passed long on the
// command line, as opposed to it carrying its struct-tag default.
func flagWasSet(parser *flags.Parser, long string) bool {
	opt := parser.FindOptionByLongName(long)
	return opt != nil && opt.IsSet()
}

// errHelpShown signals that go-flags already printed help/usage and the
// process should exit 0 without further error reporting.
var errHelpShown = fmt.Errorf("config: help requested")

// IsHelpShown reports whether err is the help-already-printed sentinel.
func IsHelpShown(err error) bool { return err == errHelpShown }

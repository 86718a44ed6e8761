package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ponytojas/sensormap/config"
	"github.com/ponytojas/sensormap/internal/api"
	"github.com/ponytojas/sensormap/internal/session"
)

const usage = `Usage: sensormap <command> [flags]

Commands:
  login -u USER -p PASS       obtain a token and save the session
  logout                      remove the saved session
  register-user -u USER -p PASS
                              create a user with the current session
  sensors list                list registered sensors
  sensors get ID              show one sensor
  sensors create [flags]      register a sensor
  nearest [--lat --lon] [--all]
                              find the sensor closest to a position
  watch                       track the nearest sensor until interrupted
  history [--limit N]         show recorded results from PostgreSQL

Global flags:
  --config DIR    directory containing config.yaml (default ".")
  --api-url URL   sensor API base URL
  --session FILE  session file (default ~/.sensormap/session.json)
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("no command given")
	}

	err := dispatch(ctx, args[0], args[1:], out)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func dispatch(ctx context.Context, cmd string, rest []string, out io.Writer) error {
	switch cmd {
	case "login":
		return cmdLogin(ctx, rest, out)
	case "logout":
		return cmdLogout(rest, out)
	case "register-user":
		return cmdRegisterUser(ctx, rest, out)
	case "sensors":
		return cmdSensors(ctx, rest, out)
	case "nearest":
		return cmdNearest(ctx, rest, out)
	case "watch":
		return cmdWatch(ctx, rest, out)
	case "history":
		return cmdHistory(ctx, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run sensormap help", cmd)
	}
}

// app carries what every command needs after flag parsing.
type app struct {
	cfg         *config.Config
	sessionPath string
}

// newFlagSet returns a flag set holding the global flags.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", ".", "directory containing config.yaml")
	fs.String("api-url", "", "sensor API base URL (overrides api.base_url)")
	fs.String("session", "", "session file (overrides api.session_file)")
	return fs
}

// setup parses args and loads the configuration. Flags named after a
// config key (e.g. --refresh.mode) override the loaded value.
func setup(fs *pflag.FlagSet, args []string) (*app, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	configDir, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configDir, fs)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if apiURL, _ := fs.GetString("api-url"); apiURL != "" {
		cfg.API.BaseURL = apiURL
	}

	sessionPath, _ := fs.GetString("session")
	if sessionPath == "" {
		sessionPath = cfg.API.SessionFile
	}
	if sessionPath == "" {
		if sessionPath, err = session.DefaultPath(); err != nil {
			return nil, fmt.Errorf("failed to locate session file: %w", err)
		}
	}

	return &app{cfg: cfg, sessionPath: sessionPath}, nil
}

// anonymousClient builds a client for calls that need no token.
func (a *app) anonymousClient() *api.Client {
	return api.NewClient(a.cfg.API.BaseURL, a.cfg.API.Timeout, nil)
}

// authedClient builds a client using the saved session.
func (a *app) authedClient() (*api.Client, error) {
	sess, err := session.Load(a.sessionPath)
	if err != nil {
		return nil, err
	}
	if sess.BaseURL != "" && sess.BaseURL != a.cfg.API.BaseURL {
		log.Printf("[CLI] Session was issued by %s, using it against %s", sess.BaseURL, a.cfg.API.BaseURL)
	}
	return api.NewClient(a.cfg.API.BaseURL, a.cfg.API.Timeout, sess), nil
}

// explain adds a hint to errors the user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, api.ErrAuthExpired):
		return fmt.Errorf("%w, run sensormap login again", err)
	case errors.Is(err, api.ErrNetwork):
		return fmt.Errorf("%w, check your connection and the API URL", err)
	default:
		return err
	}
}

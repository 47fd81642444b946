package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/halvorsen/wsengine/internal/logger"
	"github.com/halvorsen/wsengine/pkg/websocket"
	"github.com/tzrikka/xdg"
)

const (
	configDirName  = "wsclient"
	configFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:      "wsclient",
		Usage:     "connects to a WebSocket server and echoes back every message it receives",
		Version:   bi.Main.Version,
		Flags:     flags(),
		Arguments: []cli.Argument{&cli.StringArg{Name: "url"}},
		Action:    run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	l := initLog(cmd.Bool("dev") || cmd.Bool("pretty-log"))
	ctx = logger.WithContext(ctx, l)

	rawURL := cmd.StringArg("url")
	if rawURL == "" {
		return fmt.Errorf("missing WebSocket URL argument")
	}

	opts := []websocket.Option{
		websocket.WithConnectTimeout(time.Duration(cmd.Int("connect-timeout-ms")) * time.Millisecond),
	}
	if ms := cmd.Int("keepalive-ms"); ms > 0 {
		opts = append(opts, websocket.WithKeepalive(ms, int(cmd.Int("keepalive-max-attempts"))))
	}
	if cmd.Bool("insecure-skip-verify") {
		opts = append(opts, websocket.WithInsecureSkipVerify())
	}

	e, err := websocket.Start[clientState](ctx, rawURL, echoHandler{reconnect: cmd.Bool("reconnect")}, ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer e.Stop()

	if err := e.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	<-ctx.Done()
	return nil
}

func flags() []cli.Flag {
	path := configFile()

	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.BoolFlag{
			Name:  "reconnect",
			Usage: "keep reconnecting automatically instead of connecting once",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSCLIENT_RECONNECT"),
				toml.TOML("wsclient.reconnect", path),
			),
		},
		&cli.IntFlag{
			Name:  "keepalive-ms",
			Usage: "interval between automatic keepalive pings, in milliseconds (0 disables)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSCLIENT_KEEPALIVE_MS"),
				toml.TOML("wsclient.keepalive_ms", path),
			),
		},
		&cli.IntFlag{
			Name:  "keepalive-max-attempts",
			Usage: "number of unanswered keepalive pings tolerated before disconnecting",
			Value: 3,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSCLIENT_KEEPALIVE_MAX_ATTEMPTS"),
				toml.TOML("wsclient.keepalive_max_attempts", path),
			),
		},
		&cli.IntFlag{
			Name:  "connect-timeout-ms",
			Usage: "bounded wait for the connect handshake to complete, in milliseconds",
			Value: 6000,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSCLIENT_CONNECT_TIMEOUT_MS"),
				toml.TOML("wsclient.connect_timeout_ms", path),
			),
		},
		&cli.BoolFlag{
			Name:  "insecure-skip-verify",
			Usage: "skip TLS certificate verification for \"wss\" targets (never use against production endpoints)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSCLIENT_INSECURE_SKIP_VERIFY"),
				toml.TOML("wsclient.insecure_skip_verify", path),
			),
		},
	}
}

// configFile returns the path to the app's configuration file. It also
// creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, configDirName, configFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// initLog builds the top-level zerolog.Logger for this process, switching
// between a human-readable console writer and JSON output depending on
// dev mode.
func initLog(devMode bool) zerolog.Logger {
	var w zerolog.ConsoleWriter
	if devMode {
		w = zerolog.NewConsoleWriter()
		return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

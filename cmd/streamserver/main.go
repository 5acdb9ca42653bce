package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/streamserver/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:      "streamserver",
		Usage:     "stream the standard output of a shell command to the first HTTP GET client",
		ArgsUsage: "COMMAND",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The IPv4 address for the server to listen on.",
				Value: server.DefaultListenAddr,
			},
			&cli.IntFlag{
				Name:  "read-buffer-size",
				Usage: "Maximum number of request bytes read from a connection.",
				Value: server.DefaultReadBufferSize,
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Maximum number of output bytes relayed per write.",
				Value: server.DefaultChunkSize,
			},
			&cli.StringFlag{
				Name:  "shell",
				Usage: "The shell used to run the command.",
				Value: server.DefaultShell,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
				Value: "info",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("expected exactly one COMMAND argument, got %d", ctx.NArg())
			}
			command := ctx.Args().First()

			level, err := zapcore.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			logger, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()
			statusLog := logger.Named("status").Sugar()

			onStatus := func(e server.Event) {
				switch e.Kind {
				case server.EventError:
					statusLog.Warn(e.Message)
				case server.EventRequest:
					statusLog.Infow(e.Message, "Method", e.Request.Method, "Target", e.Request.Target, "Version", e.Request.Version)
				default:
					statusLog.Info(e.Message)
				}
			}

			s, err := server.New(
				command,
				onStatus,
				server.WithLogger(logger),
				server.WithLogLevel(level),
				server.WithListenAddr(ctx.String("listen-addr")),
				server.WithReadBufferSize(ctx.Int("read-buffer-size")),
				server.WithChunkSize(ctx.Int("chunk-size")),
				server.WithShell(ctx.String("shell")),
			)
			if err != nil {
				return fmt.Errorf("building server: %w", err)
			}

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = s.Run(runCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/numtide/cert-renewer/appcontext"
	"github.com/numtide/cert-renewer/certmanager"
	"github.com/numtide/cert-renewer/config"
	"github.com/numtide/cert-renewer/notify"
	"github.com/numtide/cert-renewer/renewal"
	"github.com/numtide/cert-renewer/routeros"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {

	app := &cli.App{
		Name:  "cert-renewer",
		Usage: "renew due certificates while the router forwards the ACME challenge",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				EnvVars: []string{"ENV_FILE"},
				Value:   ".env",
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				EnvVars: []string{"DRY_RUN"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				EnvVars: []string{"DEBUG"},
			},
		},
		Action: func(c *cli.Context) error {
			lc := zap.NewProductionConfig()
			lc.EncoderConfig.TimeKey = "timestamp"
			lc.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
			lc.OutputPaths = []string{"stdout"}
			if c.Bool("debug") {
				lc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
			}

			z, err := lc.Build()
			if err != nil {
				return errors.Wrap(err, "while creating logger")
			}
			defer z.Sync()

			logger := z.Sugar()

			cfg, err := config.Load(c.String("env-file"))
			if err != nil {
				return errors.Wrap(err, "while loading configuration")
			}

			cfg, err = cfg.WithVaultSecrets()
			if err != nil {
				return errors.Wrap(err, "while reading secrets from vault")
			}

			err = cfg.Validate()
			if err != nil {
				return err
			}

			appContext := appcontext.AppContext{
				Config: cfg,
				Logger: logger,
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			orchestrator := renewal.New(
				appContext,
				certmanager.New(appContext),
				routeros.NewDialer(appContext),
				notify.NewObserver(notify.NewTelegram(appContext)),
				renewal.WithDryRun(c.Bool("dry-run")),
			)

			_, err = orchestrator.Run(ctx)
			if err != nil {
				logger.With("error", err).Error("renewal pass failed")
				return cli.Exit(err.Error(), 1)
			}

			return nil

		},
	}
	app.RunAndExitOnError()

}


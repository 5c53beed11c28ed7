package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trustplane/trustagent/authority"
	"github.com/trustplane/trustagent/cmd/flags"
	"github.com/urfave/cli/v2"
)

var appFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8123",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:     "policy-file",
		Required: true,
		Usage:    "JSON admission policy mapping domains to allowed measurements",
	},
	&cli.StringFlag{
		Name:  "ca-name",
		Value: "trustplane policy authority",
		Usage: "CommonName of the generated policy CA",
	},
	&cli.StringFlag{
		Name:  "policy-cert-out",
		Usage: "if set, write the policy CA certificate PEM to this file on startup",
	},
	flags.LogJsonFlag,
	flags.LogDebugFlag,
	flags.LogUidFlag,
	flags.LogServiceFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}

func main() {
	app := &cli.App{
		Name:  "trustagent-authority",
		Usage: "Serve the policy authority certification API",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			policy, err := authority.LoadPolicy(cCtx.String("policy-file"))
			if err != nil {
				logger.Error("Failed to load admission policy", "err", err)
				return err
			}

			handler, err := authority.NewSelfSignedHandler(cCtx.String("ca-name"), policy, logger)
			if err != nil {
				logger.Error("Failed to create policy CA", "err", err)
				return err
			}

			if out := cCtx.String("policy-cert-out"); out != "" {
				if err := os.WriteFile(out, handler.PolicyCert(), 0o644); err != nil {
					logger.Error("Failed to write policy certificate", "err", err, "path", out)
					return err
				}
				logger.Info("Policy certificate written", "path", out)
			}

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))
			server, err := authority.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Authority is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

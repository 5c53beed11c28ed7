package main

import (
	"crypto/sha256"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var appFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "in",
		Usage: "file to measure (typically the application binary)",
	},
	&cli.StringFlag{
		Name:  "out",
		Value: "app.measurement",
		Usage: "output file for the raw 32-byte measurement",
	},
	&cli.BoolFlag{
		Name:  "test-measurement",
		Usage: "write a fixed development measurement instead of hashing a file",
	},
}

func main() {
	app := &cli.App{
		Name:  "measure",
		Usage: "Produce the SHA-256 measurement of an application binary",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			var measurement [32]byte

			if cCtx.Bool("test-measurement") {
				for i := range measurement {
					measurement[i] = byte(i)
				}
			} else {
				in := cCtx.String("in")
				if in == "" {
					return fmt.Errorf("either --in or --test-measurement is required")
				}
				data, err := os.ReadFile(in)
				if err != nil {
					return fmt.Errorf("failed to read input file: %w", err)
				}
				measurement = sha256.Sum256(data)
			}

			out := cCtx.String("out")
			if err := os.WriteFile(out, measurement[:], 0o644); err != nil {
				return fmt.Errorf("failed to write measurement: %w", err)
			}

			fmt.Printf("%x  %s\n", measurement, out)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "skim:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "skim",
		Usage: "summarize web pages with a local language model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a .toml or .yaml config file",
				EnvVars: []string{"SKIM_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"SKIM_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "text or json",
				EnvVars: []string{"SKIM_LOG_FORMAT"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the backend: submissions, history, accounts and the live channel",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Usage: "listen port", EnvVars: []string{"SKIM_PORT"}},
					&cli.StringFlag{Name: "db", Usage: "sqlite database path", EnvVars: []string{"SKIM_DB"}},
					&cli.StringFlag{Name: "static-dir", Usage: "dashboard build to serve", EnvVars: []string{"SKIM_STATIC_DIR"}},
				},
				Action: ServeAction,
			},
			{
				Name:  "ai-server",
				Usage: "expose the local llama engine over HTTP",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Usage: "listen port", EnvVars: []string{"SKIM_AI_PORT"}},
				},
				Action: AIServerAction,
			},
			{
				Name:      "summarize",
				Usage:     "summarize stdin or a file once and print the result",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read text from this file instead of stdin"},
				},
				Action: SummarizeAction,
			},
		},
	}
}

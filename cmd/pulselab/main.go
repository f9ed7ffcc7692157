// Command pulselab runs the camera lab: live face outlining and fingertip
// heart rate measurement, served over HTTP.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/pulselab/internal/config"
	"github.com/ayusman/pulselab/internal/logging"
)

const (
	flagConfig    = "config"
	flagLogLevel  = "log-level"
	flagDebug     = "debug"
	flagAddr      = "addr"
	flagNoTray    = "no-tray"
	flagLimit     = "limit"
	defaultConfig = "pulselab.yaml"
)

func main() {
	var (
		cfg    *config.Config
		logger *zap.SugaredLogger
	)

	app := &cli.App{
		Name:  "pulselab",
		Usage: "camera lab for face outlining and fingertip heart rate",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   defaultConfig,
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override log.level",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "development logging at debug level",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = config.Load(c.String(flagConfig))
			if err != nil {
				return err
			}
			if lvl := c.String(flagLogLevel); lvl != "" {
				cfg.Log.Level = lvl
			}
			if c.Bool(flagDebug) {
				cfg.Log.Level = "debug"
				cfg.Log.Development = true
			}
			logger, err = logging.New(cfg.Log.Level, cfg.Log.Development)
			return err
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				//nolint:errcheck
				logger.Sync()
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, cfg, logger)
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the pipeline and HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagAddr,
						Usage: "override server.addr",
					},
					&cli.BoolFlag{
						Name:  flagNoTray,
						Usage: "run without the system tray",
					},
				},
				Action: func(c *cli.Context) error {
					if addr := c.String(flagAddr); addr != "" {
						cfg.Server.Addr = addr
					}
					if c.Bool(flagNoTray) {
						cfg.Tray.Enabled = false
					}
					return run(c.Context, cfg, logger)
				},
			},
			{
				Name:  "sessions",
				Usage: "list stored measurements",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagLimit,
						Value: 20,
						Usage: "show at most `N` measurements",
					},
				},
				Action: func(c *cli.Context) error {
					return listSessions(cfg, c.Int(flagLimit))
				},
			},
			{
				Name:  "config",
				Usage: "print the effective configuration",
				Action: func(c *cli.Context) error {
					out, err := yaml.Marshal(cfg)
					if err != nil {
						return errors.Wrap(err, "encode config")
					}
					fmt.Print(string(out))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pulselab:", err)
		os.Exit(1)
	}
}

func listSessions(cfg *config.Config, limit int) error {
	st, err := openStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := st.Measurements().List(limit)
	if err != nil {
		return errors.Wrap(err, "list measurements")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tOUTCOME\tRATE\tSAMPLES")
	for _, m := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			m.ID,
			m.StartedAt.Local().Format("2006-01-02 15:04:05"),
			m.Duration().Round(10*time.Millisecond),
			m.Outcome,
			m.Rate,
			m.SampleCount,
		)
	}
	return w.Flush()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxnlabs/compute-node/internal/app"
	"github.com/fxnlabs/compute-node/internal/compute"
	"github.com/fxnlabs/compute-node/internal/config"
	_ "github.com/fxnlabs/compute-node/internal/kernels"
)

const defaultConfigPath = "config.yaml"

// env is the started compute stack handed to command actions.
type env struct {
	log      *zap.Logger
	registry *compute.Registry
	device   *compute.Device
	compiler *compute.Compiler
}

func main() {
	cliApp := &cli.App{
		Name:  "clctl",
		Usage: "Inspect compute devices and build, save and run device programs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   defaultConfigPath,
				Usage:   "Load configuration from `FILE`; defaults apply when it does not exist",
				EnvVars: []string{"CLCTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Override compute.backend (host, opencl, auto)",
			},
			&cli.StringFlag{
				Name:  "kernel-dir",
				Usage: "Override compute.kernelDir",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "Override logger.verbosity",
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve prometheus metrics on `ADDR` while the command runs",
				EnvVars: []string{"CLCTL_METRICS_ADDR"},
			},
		},
		Commands: []*cli.Command{
			devicesCommand(),
			buildCommand(),
			buildAllCommand(),
			saveCommand(),
			loadCommand(),
			infoCommand(),
			selftestCommand(),
			initCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config and applies flag overrides. A missing file at
// the default path is not an error.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) && !c.IsSet("config") {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if v := c.String("backend"); v != "" {
		cfg.Compute.Backend = v
	}
	if v := c.String("kernel-dir"); v != "" {
		cfg.Compute.KernelDir = v
	}
	if v := c.String("verbosity"); v != "" {
		cfg.Logger.Verbosity = v
	}
	if v := c.String("metrics-addr"); v != "" {
		cfg.Metrics.ListenAddress = v
	}
	return cfg, cfg.Validate()
}

// withRuntime starts the compute stack, runs fn and stops the stack.
func withRuntime(c *cli.Context, fn func(*env) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	var rt env
	fxApp := app.New(cfg,
		fx.NopLogger,
		fx.Populate(&rt.log, &rt.registry, &rt.device, &rt.compiler),
	)
	startCtx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fxApp.Stop(stopCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: stopping: %v\n", err)
		}
	}()
	rt.log = rt.log.Named("cli")
	return fn(&rt)
}

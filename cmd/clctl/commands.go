package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fxnlabs/compute-node/fixtures"
	"github.com/fxnlabs/compute-node/internal/compute"
)

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List usable compute devices",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-banner", Usage: "Skip the banner"},
		},
		Action: func(c *cli.Context) error {
			return withRuntime(c, func(e *env) error {
				if !c.Bool("no-banner") {
					figure.NewFigure("FxN Compute", "", true).Print()
					fmt.Fprintln(c.App.Writer)
				}
				w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "\tINDEX\tNAME\tVENDOR\tVERSION\tTYPE\tUNITS\tGLOBAL MiB\tLOCAL KiB")
				for i, d := range e.registry.Devices() {
					info := d.Info()
					mark := ""
					if d == e.device {
						mark = "*"
					}
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%d\t%.0f\t%.0f\n",
						mark, i, info.Name, d.Vendor(), info.Version, info.Type, info.ComputeUnits,
						compute.ToMiB(info.GlobalMemory), compute.ToKiB(info.LocalMemory))
				}
				return w.Flush()
			})
		},
	}
}

func printKernelSet(c *cli.Context, program string, set compute.KernelSet) {
	fmt.Fprintf(c.App.Writer, "%s: %s\n", program, strings.Join(set.Names(), ", "))
}

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Compile programs from the kernel directory on the default device",
		ArgsUsage: "PROGRAM...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("build: at least one program name is required", 2)
			}
			return withRuntime(c, func(e *env) error {
				var errs []error
				for _, name := range c.Args().Slice() {
					set, err := e.device.KernelSet(name)
					if err != nil {
						errs = append(errs, err)
						continue
					}
					printKernelSet(c, name, set)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func buildAllCommand() *cli.Command {
	return &cli.Command{
		Name:      "build-all",
		Usage:     "Compile every .cl file in a directory concurrently",
		ArgsUsage: "[DIR]",
		Action: func(c *cli.Context) error {
			return withRuntime(c, func(e *env) error {
				dir := c.Args().First()
				if dir == "" {
					dir = e.compiler.SourceDir()
				}
				ess, other := e.device.BuildOptions()
				built, err := e.compiler.BuildAll(c.Context, dir, ess, other)
				names := make([]string, 0, len(built))
				for name := range built {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					printKernelSet(c, name, built[name])
				}
				e.log.Info("Build finished", zap.Int("programs", len(built)), zap.Bool("failures", err != nil))
				return err
			})
		},
	}
}

func saveCommand() *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Compile a program and write its device binary",
		ArgsUsage: "PROGRAM PATH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("save: PROGRAM and PATH are required", 2)
			}
			return withRuntime(c, func(e *env) error {
				k, err := e.device.Kernel(c.Args().Get(0))
				if err != nil {
					return err
				}
				path, err := e.compiler.SaveKernel(c.Args().Get(1), k)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, path)
				return nil
			})
		},
	}
}

func loadCommand() *cli.Command {
	return &cli.Command{
		Name:      "load",
		Usage:     "Load a saved program binary on the default device",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("load: PATH is required", 2)
			}
			return withRuntime(c, func(e *env) error {
				set, err := e.compiler.LoadKernel(c.Args().First(), nil)
				if err != nil {
					return err
				}
				printKernelSet(c, set[0].Program(), set)
				return nil
			})
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show the resource footprint of a kernel on the default device",
		ArgsUsage: "KERNEL",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("info: KERNEL is required", 2)
			}
			return withRuntime(c, func(e *env) error {
				k, err := e.device.Kernel(c.Args().First())
				if err != nil {
					return err
				}
				info, err := e.registry.KernelInfo(k)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "kernel\t%s (%s)\n", k.Name(), k.Program())
				fmt.Fprintf(w, "arguments\t%d\n", k.NumArgs())
				fmt.Fprintf(w, "local memory\t%d bytes\n", info.LocalMemSize)
				fmt.Fprintf(w, "private memory\t%d bytes\n", info.PrivateMemSize)
				fmt.Fprintf(w, "max work-group size\t%d\n", info.WorkGroupSize)
				fmt.Fprintf(w, "preferred multiple\t%d\n", info.PreferredWorkGroupSizeMultiple)
				fmt.Fprintf(w, "fits device\t%t\n", info.CheckKernel())
				return w.Flush()
			})
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Write a configuration template and the reference programs",
		ArgsUsage: "[DIR]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Overwrite existing files"},
		},
		Action: func(c *cli.Context) error {
			dir := c.Args().First()
			if dir == "" {
				dir = "."
			}
			return writeTemplate(dir, c.Bool("force"))
		},
	}
}

// writeTemplate writes config.yaml and kernels/*.cl under dir.
func writeTemplate(dir string, force bool) error {
	files := map[string][]byte{defaultConfigPath: fixtures.ConfigTemplate}
	err := fs.WalkDir(fixtures.Kernels, "kernels", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fixtures.Kernels.ReadFile(path)
		if err != nil {
			return err
		}
		files[path] = data
		return nil
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, "kernels"), 0o755); err != nil {
		return err
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if !force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

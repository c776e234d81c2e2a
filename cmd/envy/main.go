// Command envy is the thin CLI shim around pkg/engine's single
// resolve_and_install entry point (§6, SPEC_FULL.md §A "CLI surface").
// Per §1 the CLI is an external collaborator, not part of the core;
// this binary exists only to exercise the engine end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/charlesnicholson/envy/pkg/engine"
	"github.com/charlesnicholson/envy/pkg/manifest"
	"github.com/charlesnicholson/envy/pkg/recipespec"
)

var outputFlag = &cli.StringFlag{
	Name:    "output",
	Aliases: []string{"o"},
	Usage:   "output file path, or \"-\" for stdout",
	Value:   "-",
}

var formatFlag = &cli.StringFlag{
	Name:    "format",
	Aliases: []string{"t"},
	Usage:   "output format: yaml or json",
	Value:   "yaml",
}

var cacheFlag = &cli.StringFlag{
	Name:  "cache",
	Usage: "cache root directory",
	Value: defaultCacheRoot(),
}

var debugFlag = &cli.BoolFlag{
	Name:  "debug",
	Usage: "enable debug logging",
}

func defaultCacheRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.cache/envy"
	}
	return ".envy-cache"
}

func main() {
	app := &cli.Command{
		Name:  "envy",
		Usage: "project-local toolchain/package provisioner",
		Commands: []*cli.Command{
			resolveCmd(),
			installCmd(),
		},
	}
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "envy:", err)
		os.Exit(1)
	}
}

func resolveCmd() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "resolve and install every package declared in a manifest",
		ArgsUsage: "<manifest.yaml>",
		Flags:     []cli.Flag{outputFlag, formatFlag, cacheFlag, debugFlag},
		Action:    runResolve,
	}
}

func installCmd() *cli.Command {
	return &cli.Command{
		Name:      "install",
		Usage:     "alias for resolve; installs every package declared in a manifest",
		ArgsUsage: "<manifest.yaml>",
		Flags:     []cli.Flag{outputFlag, formatFlag, cacheFlag, debugFlag},
		Action:    runResolve,
	}
}

func runResolve(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one manifest path argument")
	}
	manifestPath := cmd.Args().First()

	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	pool := recipespec.NewPool()
	roots, err := manifest.Load(manifestPath, pool)
	if err != nil {
		return err
	}

	summary, bundle := engine.ResolveAndInstall(ctx, roots, engine.Options{
		CacheRoot: cmd.String("cache"),
		Logger:    logger,
	})
	if bundle != nil {
		return bundle
	}

	return renderSummary(summary, cmd.String("output"), cmd.String("format"))
}

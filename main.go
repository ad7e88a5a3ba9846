// bimport imports a package and its transitive dependencies from a
// foreign package ecosystem, producing per-package build recipes and an
// aggregate recipe describing the whole build order.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"bimport/pkg/aggregate"
	"bimport/pkg/config"
	"bimport/pkg/extension"
	"bimport/pkg/importloop"
	"bimport/pkg/script"
	"bimport/pkg/status"
)

func main() {
	cmd := &cli.Command{
		Name:  "bimport",
		Usage: "import a package and its dependencies from a foreign ecosystem",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
			&cli.BoolFlag{Name: "update-existing"},
			&cli.BoolFlag{Name: "use-local-sources"},
			&cli.BoolFlag{Name: "use-master-if-no-tag"},
			&cli.BoolFlag{Name: "force-stratum-generation"},
			&cli.StringFlag{Name: "importer", Value: "registry", Usage: "registry or htmlindex"},
		},
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "kind"},
			&cli.StringArg{Name: "name"},
			&cli.StringArg{Name: "version"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	kind := cmd.StringArg("kind")
	name := cmd.StringArg("name")
	version := cmd.StringArg("version")
	if kind == "" || name == "" || version == "" {
		return fmt.Errorf("usage: bimport [flags] <kind> <name> <version>")
	}

	cfg, err := config.Init()
	if err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	settings := config.Settings{
		UpdateExisting:         cmd.Bool("update-existing"),
		UseLocalSources:        cmd.Bool("use-local-sources"),
		UseMasterIfNoTag:       cmd.Bool("use-master-if-no-tag"),
		ForceStratumGeneration: cmd.Bool("force-stratum-generation"),
	}

	sink := status.NewConsole()
	loop, err := importloop.New(cfg, settings, sink, kind, name, version)
	if err != nil {
		return fmt.Errorf("setting up import loop: %w", err)
	}
	defer loop.Close()

	imp, err := buildImporter(cfg, cmd.String("importer"), kind)
	if err != nil {
		return err
	}
	loop.EnableImporter(kind, imp)

	result, err := loop.Run(ctx)
	if err != nil {
		return err
	}

	targetPath := cfg.RecipeDir() + "/strata/" + name + ".morph"
	skipped, err := aggregate.Emit(loop, targetPath, aggregate.Options{
		ForceStratumGeneration: settings.ForceStratumGeneration,
		UpdateExisting:         settings.UpdateExisting,
	})
	if err != nil {
		return fmt.Errorf("emitting aggregate recipe: %w", err)
	}
	if skipped {
		sink.Status("aggregate recipe not regenerated")
	} else {
		sink.Status("aggregate recipe written to %s", targetPath)
	}

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
	return nil
}

// buildImporter chooses between the subprocess extension runner and the
// in-process scripted importer based on the --importer flag. Ecosystem
// kinds backed by an extensions directory use the subprocess runner;
// "registry"/"htmlindex" select a builtin Starlark script.
func buildImporter(cfg config.Config, importerName, kind string) (extension.Importer, error) {
	switch importerName {
	case "registry", "htmlindex":
		return script.LoadBuiltin(importerName)
	default:
		return extension.NewSubprocessImporter(extension.NewRunner(cfg.ExtensionsDir()), kind), nil
	}
}

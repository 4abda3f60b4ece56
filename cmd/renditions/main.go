package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/zlog"

	"github.com/renditionlab/renditions/internal/config"
	"github.com/renditionlab/renditions/internal/engine"
	"github.com/renditionlab/renditions/internal/executor"
	"github.com/renditionlab/renditions/internal/model"
	"github.com/renditionlab/renditions/internal/recipes"
	"github.com/renditionlab/renditions/internal/storage/file"
)

// renditions is the one-shot CLI: it renders every image under -in with
// the given recipes and mirrors the results under -out, without the
// server, database, or queue.
func main() {
	var (
		in          = flag.String("in", "", "input directory to render")
		out         = flag.String("out", "", "output directory for renditions")
		group       = flag.String("group", "", "recipe group name from the config file")
		recipesPath = flag.String("recipes", "", "path to a JSON file with a recipe list")
		configPath  = flag.String("config", "./config/config.yml", "config file, used to resolve -group")
		workers     = flag.Int("workers", 0, "render workers, 0 means one per CPU")
	)
	flag.Parse()

	zlog.Init()

	if *in == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "both -in and -out are required")
		flag.Usage()
		os.Exit(2)
	}

	rcps, err := loadRecipes(*group, *recipesPath, *configPath)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to load recipes")
	}

	instructions, err := recipes.Build(rcps)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("invalid recipes")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := file.New("")

	rels, err := store.List(ctx, *in)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to list input directory")
	}
	if len(rels) == 0 {
		zlog.Logger.Warn().Str("dir", *in).Msg("no images found")
		return
	}

	inputs := make([]executor.Input, 0, len(rels))
	for _, rel := range rels {
		inputs = append(inputs, executor.FileInput{Root: *in, Rel: rel})
	}

	exec := executor.New(engine.New(), executor.Options{
		Workers:   *workers,
		EnsureDir: store.EnsureDir,
	})

	var rendered, failed int
	for res := range exec.Run(ctx, inputs, instructions, *out) {
		if res.Err != nil {
			failed++
			zlog.Logger.Err(res.Err).Str("source", res.Source).Msg("rendition failed")
			continue
		}

		art := res.Artifact
		if _, err := store.Save(ctx, art.Path, bytes.NewReader(art.Data), int64(len(art.Data))); err != nil {
			failed++
			zlog.Logger.Err(err).Str("dest", art.Path).Msg("failed to save rendition")
			continue
		}

		rendered++
		zlog.Logger.Info().
			Str("dest", art.Path).
			Int("width", art.Width).
			Int("height", art.Height).
			Msg("rendered")
	}

	zlog.Logger.Info().
		Int("inputs", len(inputs)).
		Int("rendered", rendered).
		Int("failed", failed).
		Msg("done")

	if failed > 0 {
		os.Exit(1)
	}
}

// loadRecipes reads the recipe list from a JSON file, or resolves a
// named group from the config file. Exactly one source must be given.
func loadRecipes(group, recipesPath, configPath string) ([]model.Recipe, error) {
	switch {
	case group != "" && recipesPath != "":
		return nil, fmt.Errorf("-group and -recipes are mutually exclusive")

	case recipesPath != "":
		data, err := os.ReadFile(recipesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read recipes file: %w", err)
		}

		var rcps []model.Recipe
		if err := json.Unmarshal(data, &rcps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipes: %w", err)
		}
		return rcps, nil

	case group != "":
		cfg := config.MustLoad(configPath)
		rcps, ok := cfg.Groups[group]
		if !ok {
			return nil, fmt.Errorf("unknown recipe group %q", group)
		}
		return rcps, nil

	default:
		return nil, fmt.Errorf("either -group or -recipes is required")
	}
}

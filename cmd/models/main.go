package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"lehengaTryOn/internal/catalog"
	"lehengaTryOn/internal/config"
)

func main() {
	var (
		selectFlag = flag.Bool("select", false, "Print the text/image model pair the server would pick")
		imagesOnly = flag.Bool("images", false, "Only list models that can emit images")
		asJSON     = flag.Bool("json", false, "Print JSON instead of a table")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Gemini.CatalogTimeout)
	defer cancel()

	lister, err := catalog.NewGenAILister(ctx, cfg.Gemini.APIKey)
	if err != nil {
		log.Fatalf("connect catalog: %v", err)
	}

	if *selectFlag {
		sel, err := catalog.Discover(ctx, lister, catalog.Pins{
			TextModel:     cfg.Gemini.TextModel,
			ImageModel:    cfg.Gemini.ImageModel,
			ImageDisabled: cfg.SkipImageDiscovery(),
		})
		if err != nil {
			log.Fatalf("select models: %v", err)
		}
		if err := printSelection(os.Stdout, sel, *asJSON); err != nil {
			log.Fatalf("print selection: %v", err)
		}
		return
	}

	models, err := lister.List(ctx)
	if err != nil {
		log.Fatalf("list models: %v", err)
	}
	if *imagesOnly {
		models = filterImages(models)
	}
	if err := printModels(os.Stdout, models, *asJSON); err != nil {
		log.Fatalf("print models: %v", err)
	}
}

func filterImages(models []catalog.Model) []catalog.Model {
	out := models[:0]
	for _, m := range models {
		if m.EmitsImages() {
			out = append(out, m)
		}
	}
	return out
}

func printSelection(w io.Writer, sel catalog.Selection, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(sel)
	}
	image := sel.ImageModel
	if image == "" {
		image = "(none, image synthesis will be skipped)"
	}
	_, err := fmt.Fprintf(w, "text:  %s\nimage: %s\n", sel.TextModel, image)
	return err
}

func printModels(w io.Writer, models []catalog.Model, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDISPLAY NAME\tACTIONS\tIMAGES")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", m.ID, m.DisplayName, strings.Join(m.SupportedActions, ","), m.EmitsImages())
	}
	fmt.Fprintf(tw, "\n%d models\n", len(models))
	return tw.Flush()
}

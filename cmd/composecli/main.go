// composecli renders a layer composition described by a YAML manifest.
//
// The manifest names the canvas configuration and the input images with
// their per-layer transform and adjustment state:
//
//	canvas:
//	  width: 1024
//	  height: 1024
//	  border_width: 40
//	  background: transparent
//	auto_size: false
//	layers:
//	  - file: photo.png
//	    order: 0
//	    transform: {x: 552, y: 552, scale_x: 1, scale_y: 1}
//	    adjustment: {brightness: 0.1, opacity: 90}
//
// Outputs go to --out-dir: canvas.png, mask_NN.png and layer_NN.png per
// slot, and metadata.yaml with the resolved layer state.
package main

import (
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/pixelstack/compose"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// manifest is the YAML input schema.
type manifest struct {
	Canvas struct {
		Width       int    `yaml:"width"`
		Height      int    `yaml:"height"`
		BorderWidth int    `yaml:"border_width"`
		Background  string `yaml:"background"`
	} `yaml:"canvas"`
	AutoSize bool `yaml:"auto_size"`
	Layers   []struct {
		File       string              `yaml:"file"`
		Enabled    *bool               `yaml:"enabled"`
		Order      *int                `yaml:"order"`
		Transform  *compose.Transform  `yaml:"transform"`
		Adjustment *compose.Adjustment `yaml:"adjustment"`
	} `yaml:"layers"`
}

func run() error {
	var (
		manifestPath string
		outDir       string
		storeRoot    string
		configPath   string
		sessionID    string
		verbose      bool
	)

	flagSet := pflag.NewFlagSet("composecli", pflag.ContinueOnError)
	flagSet.StringVar(&manifestPath, "manifest", "compose.yaml", "path to the composition manifest")
	flagSet.StringVarP(&outDir, "out-dir", "o", ".", "directory for rendered outputs")
	flagSet.StringVar(&storeRoot, "store", "", "content store directory (default: per-user temp dir)")
	flagSet.StringVar(&configPath, "config", "", "optional session config file")
	flagSet.StringVar(&sessionID, "session", "composecli", "session/node id for stored content")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log pipeline details to stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if verbose {
		compose.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	raw, err := os.ReadFile(manifestPath) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parsing manifest %s: %w", manifestPath, err)
	}

	background, err := parseBackground(m.Canvas.Background)
	if err != nil {
		return err
	}

	var opts []compose.Option
	if configPath != "" {
		fileOpts, err := compose.LoadOptions(configPath)
		if err != nil {
			return err
		}
		opts = append(opts, fileOpts...)
	}
	if storeRoot != "" {
		opts = append(opts, compose.WithStoreRoot(storeRoot))
	}

	sess, err := compose.NewSession(sessionID, opts...)
	if err != nil {
		return err
	}

	input := compose.RenderInput{
		Canvas: compose.CanvasConfig{
			Width:       m.Canvas.Width,
			Height:      m.Canvas.Height,
			BorderWidth: m.Canvas.BorderWidth,
			Background:  background,
		},
		AutoSize: m.AutoSize,
	}
	baseDir := filepath.Dir(manifestPath)
	for i, entry := range m.Layers {
		buf, err := compose.LoadPNG(resolvePath(baseDir, entry.File))
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		input.Layers = append(input.Layers, buf)
		input.State = append(input.State, compose.LayerState{
			Enabled:    entry.Enabled,
			Order:      entry.Order,
			Transform:  entry.Transform,
			Adjustment: entry.Adjustment,
			Filename:   entry.File,
		})
	}

	result, err := sess.Render(input)
	if err != nil {
		return err
	}
	for slot, layerErr := range result.LayerErrors {
		if layerErr != nil {
			fmt.Fprintf(os.Stderr, "warning: layer %d recovered: %v\n", slot, layerErr)
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := result.Canvas.SavePNG(filepath.Join(outDir, "canvas.png")); err != nil {
		return err
	}
	for i := range result.Masks {
		if err := saveGray(filepath.Join(outDir, fmt.Sprintf("mask_%02d.png", i)), result.Masks[i]); err != nil {
			return err
		}
		if err := result.LayerImages[i].SavePNG(filepath.Join(outDir, fmt.Sprintf("layer_%02d.png", i))); err != nil {
			return err
		}
	}

	meta, err := yaml.Marshal(result.Metadata)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, "metadata.yaml"), meta, 0o644); err != nil {
		return err
	}

	stats := sess.StoreStats()
	fmt.Printf("rendered %d layers to %s (store: %d writes, %d deduplicated)\n",
		len(result.Layers), outDir, stats.Writes, stats.Skips)
	return nil
}

func parseBackground(name string) (compose.Background, error) {
	switch name {
	case "", "black":
		return compose.BackgroundBlack, nil
	case "white":
		return compose.BackgroundWhite, nil
	case "transparent":
		return compose.BackgroundTransparent, nil
	default:
		return 0, fmt.Errorf("unknown background %q (want black, white, or transparent)", name)
	}
}

func resolvePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func saveGray(path string, mask *compose.Mask) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return png.Encode(f, mask.ToGray())
}

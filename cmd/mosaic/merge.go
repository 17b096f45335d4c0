package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/mosaic"
	"github.com/airbusgeo/mosaic/gdalraster"
	"github.com/airbusgeo/mosaic/internal/log"
	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type mergeOptions struct {
	output    string
	format    string
	cog       bool
	quiet     bool
	blocksize string
	numBlocks int
	cfg       mosaic.Config
}

func newMergeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [flags] input...",
		Short: "merge rasters, or directories of .tif rasters, into a single output",
		Long: `merge composites its inputs in the given order into one raster covering their
union. Where inputs overlap, later ones overwrite earlier ones, except for
pixels flagged as nodata or masked out.

If the output already exists it is updated in place, keeping its own extent
and resolution.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if optfile := v.GetString("optfile"); optfile != "" {
				extra, err := readOptFile(optfile)
				if err != nil {
					return err
				}
				if err = cmd.Flags().Parse(extra); err != nil {
					return fmt.Errorf("optfile %s: %w", optfile, err)
				}
				args = append(args, cmd.Flags().Args()...)
			}
			opts, err := mergeOptionsFrom(v)
			if err != nil {
				return err
			}
			inputs, err := expandInputs(args)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no input files")
			}
			return runMerge(cmd.Context(), opts, inputs, cmd.ErrOrStderr())
		},
	}

	def := mosaic.DefaultConfig()
	flags := cmd.Flags()
	flags.StringP("output", "o", "out.tif", "output file")
	flags.String("of", "", "output format driver, guessed from the output extension by default")
	flags.StringArray("co", nil, "creation option, e.g. COMPRESS=LZW")
	flags.String("ot", "", "output data type, e.g. Int16, defaults to the type of the first input")
	flags.StringP("nodata", "n", "", "ignore pixels of this value (may be nan) in the inputs")
	flags.String("a_nodata", "", "nodata value assigned to the output bands")
	flags.String("init", "", "value(s) the output bands are initialized with, e.g. \"0 0 255\"")
	flags.Bool("separate", false, "place each input band in a separate output band")
	flags.Bool("pct", false, "copy the color table of the first input")
	flags.Bool("tap", false, "align the output extent on the pixel size")
	flags.Bool("createonly", false, "only create and initialize the output")
	flags.BoolP("verbose", "v", false, "report each input as it is processed")
	flags.BoolP("quiet", "q", false, "do not display progress")
	flags.Bool("cog", false, "write a cloud optimized geotiff")
	flags.Int("workers", def.Workers, "number of inputs read concurrently")
	flags.Int("pixelCount", def.TargetPixelCount, "maximum number of pixels copied at once")
	flags.String("optfile", "", "read additional arguments from this file")
	flags.String("blocksize", "512k", "gs cache blocksize")
	flags.Int("numblocks", 1000, "number of gs cached blocks")
	_ = v.BindPFlags(flags)
	return cmd
}

func parseOptionalFloat(name, value string) (*float64, error) {
	if value == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, value)
	}
	return &f, nil
}

func parseInitValues(value string) ([]float64, error) {
	var values []float64
	for _, s := range strings.FieldsFunc(value, func(r rune) bool { return r == ' ' || r == ',' }) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid init value %q", s)
		}
		values = append(values, f)
	}
	return values, nil
}

func mergeOptionsFrom(v *viper.Viper) (mergeOptions, error) {
	var err error
	opts := mergeOptions{
		output:    v.GetString("output"),
		format:    v.GetString("of"),
		cog:       v.GetBool("cog"),
		quiet:     v.GetBool("quiet"),
		blocksize: v.GetString("blocksize"),
		numBlocks: v.GetInt("numblocks"),
		cfg: mosaic.Config{
			Separate:            v.GetBool("separate"),
			TargetAlignedPixels: v.GetBool("tap"),
			CreateOnly:          v.GetBool("createonly"),
			CreationOptions:     v.GetStringSlice("co"),
			CopyColorTable:      v.GetBool("pct"),
			Workers:             v.GetInt("workers"),
			TargetPixelCount:    v.GetInt("pixelCount"),
			Verbose:             v.GetBool("verbose"),
		},
	}
	if opts.output == "" {
		return opts, fmt.Errorf("missing output")
	}
	if ot := v.GetString("ot"); ot != "" {
		if opts.cfg.DataType, err = mosaic.ParseDataType(ot); err != nil {
			return opts, err
		}
	}
	if opts.cfg.NoData, err = parseOptionalFloat("nodata", v.GetString("nodata")); err != nil {
		return opts, err
	}
	if opts.cfg.AssignedNoData, err = parseOptionalFloat("a_nodata", v.GetString("a_nodata")); err != nil {
		return opts, err
	}
	if opts.cfg.InitValues, err = parseInitValues(v.GetString("init")); err != nil {
		return opts, err
	}
	return opts, nil
}

// readOptFile returns the shell-split arguments held in name, skipping
// comment lines
func readOptFile(name string) ([]string, error) {
	content, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read optfile: %w", err)
	}
	var args []string
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		words, err := shellwords.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("optfile %s: %w", name, err)
		}
		args = append(args, words...)
	}
	return args, nil
}

// expandInputs replaces local directories by the .tif files they contain
func expandInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		if isGCS(arg) {
			inputs = append(inputs, arg)
			continue
		}
		if fi, err := os.Stat(arg); err != nil || !fi.IsDir() {
			inputs = append(inputs, arg)
			continue
		}
		files, err := filepath.Glob(filepath.Join(arg, "*.tif"))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", arg, err)
		}
		sort.Strings(files)
		inputs = append(inputs, files...)
	}
	return inputs, nil
}

func tempName(ext string) string {
	return filepath.Join(os.TempDir(), "mosaic-"+uuid.New().String()+ext)
}

func runMerge(ctx context.Context, opts mergeOptions, inputs []string, stderr io.Writer) error {
	logger := log.Logger(ctx)
	remote := isGCS(opts.output)

	var stcl *storage.Client
	if remote || anyGCS(inputs) {
		var err error
		if stcl, err = setupGCS(ctx, opts.blocksize, opts.numBlocks); err != nil {
			return err
		}
		defer stcl.Close()
	}

	cfg := opts.cfg
	target := opts.output
	driver := godal.GTiff
	if opts.cog {
		cfg.CreationOptions = nil
	} else {
		var err error
		if driver, err = outputDriver(opts.output, opts.format); err != nil {
			return err
		}
	}
	if remote || opts.cog {
		target = tempName(filepath.Ext(opts.output))
		defer os.Remove(target)
	}
	if !opts.quiet && !cfg.Verbose {
		cfg.Progress = newTermProgress(stderr).Update
	}

	res, err := cfg.Merge(ctx, gdalraster.Opener{Driver: driver}, inputs, target)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	result := target
	if opts.cog {
		result = opts.output
		if remote {
			result = tempName(".tif")
			defer os.Remove(result)
		}
		if err = gdalraster.TranslateCOG(target, result, opts.cfg.CreationOptions); err != nil {
			return err
		}
	}
	if remote {
		if err = upload(ctx, stcl, result, opts.output); err != nil {
			return err
		}
	}
	logger.Info("mosaic written",
		zap.String("output", opts.output),
		zap.Int("tiles", len(res.Tiles)),
		zap.Int("dropped", len(res.Dropped)),
		zap.Bool("reused", res.Reused),
		zap.String("size", fmt.Sprintf("%dx%dx%d", res.Width, res.Height, res.Bands)))
	return nil
}

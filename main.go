package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/pkg/errors"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "v0.2.0"

// flag
var (
	cf          string
	pointLayers string
	forceZoom   int
	clipTiles   bool
	strict      bool
)

func init() {
	//InitLog 初始化日志
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldsOrder:     []string{"task", "layer"},
	})
	// then wrap the log output with it
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	log.SetLevel(log.DebugLevel)
}

var rootCmd = &cobra.Command{
	Use:   "osmcache theme zoomlevel targetdirectory lat0 lon0 lat1 lon1",
	Short: "Build a tiled geojson cache for a theme from an overpass backend",
	Long: `Downloads every tile of the bounding box from overpass, merges and deduplicates
the features and writes one geojson file per layer and tile.

--force-zoom-level causes non-cached layers to be downloaded
--clip will erase parts of the feature falling outside of the bounding box`,
	Version:      version,
	Args:         cobra.ExactArgs(7),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		initConf(cf)
		opts, err := parseArgs(args)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("force-zoom-level") {
			z := forceZoom
			opts.ForceZoom = &z
		}
		if pointLayers != "" {
			opts.PointLayers = strings.Split(pointLayers, ",")
		}
		opts.Clip = clipTiles
		opts.Strict = strict || viper.GetBool("load.strict")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return run(ctx, opts)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cf, "config", "c", "conf.toml", "set config `file`")
	rootCmd.Flags().StringVar(&pointLayers, "generate-point-overview", "", "comma separated `layers` to generate a centroid overview for (or * for all)")
	rootCmd.Flags().IntVar(&forceZoom, "force-zoom-level", 0, "cache every layer at this `zoom` level")
	rootCmd.Flags().BoolVar(&clipTiles, "clip", false, "clip feature geometries to the tile boundary")
	rootCmd.Flags().BoolVar(&strict, "strict", false, "abort when a raw tile is missing while loading")
}

// initConf 初始化配置
func initConf(cfgFile string) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	setDefaults()
	if lvl, err := log.ParseLevel(viper.GetString("log.level")); err == nil {
		log.SetLevel(lvl)
	}
}

func setDefaults() {
	viper.SetDefault("app.version", version)
	viper.SetDefault("app.title", "OSM Cache Builder")
	viper.SetDefault("backend.endpoints", DefaultEndpoints)
	viper.SetDefault("backend.timeout", 90)
	viper.SetDefault("http.timeout", "120s")
	viper.SetDefault("download.failure_delay", "1s")
	viper.SetDefault("download.pass_delay", "30s")
	viper.SetDefault("themes.directory", "themes")
	viper.SetDefault("enrich.timeout", "5m")
	viper.SetDefault("load.strict", false)
	viper.SetDefault("ledger.enabled", true)
	viper.SetDefault("log.level", "debug")
}

func parseNumber(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Errorf("the %s (%q) is not a valid number", name, s)
	}
	return v, nil
}

//parseArgs 校验位置参数，不做任何网络访问
func parseArgs(args []string) (*Options, error) {
	if len(args) < 7 {
		return nil, errors.New("expected arguments are: theme zoomlevel targetdirectory lat0 lon0 lat1 lon1")
	}
	zoom, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, errors.Errorf("the zoomlevel (%q) is not a valid number", args[1])
	}
	if err := CheckZoom(zoom); err != nil {
		return nil, errors.Wrap(err, "the zoomlevel")
	}
	opts := &Options{Theme: args[0], Zoom: zoom, TargetDir: args[2]}
	names := []string{"first number (a latitude)", "second number (a longitude)", "third number (a latitude)", "fourth number (a longitude)"}
	coords := make([]float64, 4)
	for i := range coords {
		if coords[i], err = parseNumber(names[i], args[3+i]); err != nil {
			return nil, err
		}
	}
	opts.Lat0, opts.Lon0, opts.Lat1, opts.Lon1 = coords[0], coords[1], coords[2], coords[3]
	fi, err := os.Stat(opts.TargetDir)
	if err != nil || !fi.IsDir() {
		return nil, errors.Errorf("the directory %s does not exist", opts.TargetDir)
	}
	return opts, nil
}

//prepareTheme 去掉内置图层并处理 --force-zoom-level
func prepareTheme(themes Themes, opts *Options) (*Theme, error) {
	if opts.ForceZoom != nil {
		if err := CheckZoom(*opts.ForceZoom); err != nil {
			return nil, errors.Wrap(err, "--force-zoom-level")
		}
	}
	theme, err := themes.Get(opts.Theme)
	if err != nil {
		return nil, err
	}
	theme.RemovePrivilegedLayers()
	log.Infof("layers to download: %s", strings.Join(theme.LayerIDs(), ", "))
	if opts.ForceZoom != nil {
		theme.ForceZoomLevel(*opts.ForceZoom)
	}
	return theme, nil
}

func newTaskFromConfig(theme *Theme, r TileRange, opts *Options) (*Task, error) {
	cache := &TileCache{Dir: opts.TargetDir, Theme: theme.ID}
	task, err := NewTask(theme, r, cache, viper.GetStringSlice("backend.endpoints"), viper.GetInt("backend.timeout"))
	if err != nil {
		return nil, err
	}
	task.Fetcher = NewFetcher(viper.GetDuration("http.timeout"))
	task.FailureDelay = viper.GetDuration("download.failure_delay")
	task.PassDelay = viper.GetDuration("download.pass_delay")
	task.EnrichTimeout = viper.GetDuration("enrich.timeout")
	task.Zoom = opts.Zoom
	task.Clip = opts.Clip
	task.Strict = opts.Strict
	task.Progress = true
	for _, l := range opts.PointLayers {
		l = strings.TrimSpace(l)
		switch {
		case l == "":
		case l != "*" && theme.Layer(l) == nil:
			log.Warnf("--generate-point-overview: theme %s has no layer %s, ignoring it", theme.ID, l)
		default:
			task.PointLayers[l] = true
		}
	}
	return task, nil
}

func run(ctx context.Context, opts *Options) error {
	log.Infof("target zoomlevel for the tiles is %d; this can be overridden by the individual layers", opts.Zoom)
	r, err := TileRangeBetween(opts.Zoom, opts.Lat0, opts.Lon0, opts.Lat1, opts.Lon1)
	if err != nil {
		return err
	}
	if r.Total == 0 {
		log.Warn("tilerange has zero tiles - this is probably an error")
		return nil
	}
	themes, err := LoadThemes(viper.GetString("themes.directory"))
	if err != nil {
		return err
	}
	theme, err := prepareTheme(themes, opts)
	if err != nil {
		return err
	}
	task, err := newTaskFromConfig(theme, r, opts)
	if err != nil {
		return err
	}
	if viper.GetBool("ledger.enabled") {
		ledger, err := OpenLedger(task.Cache.LedgerPath())
		if err != nil {
			return err
		}
		defer ledger.Close()
		task.Ledger = ledger
	}
	return task.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error building cache:", err)
		os.Exit(1)
	}
	log.Info("All done!")
}

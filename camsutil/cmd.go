/*
Copyright © 2024 the CAMSMap authors.
This file is part of CAMSMap.

CAMSMap is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CAMSMap is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CAMSMap.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package camsutil holds the command-line interface and the pipeline
// driver for CAMSMap.
package camsutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/camsmap"
	"github.com/spatialmodel/camsmap/cdsapi"
	"github.com/spatialmodel/camsmap/publish"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

// Clock supplies the current time for the default forecast date.
var Clock = clockwork.NewRealClock()

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to CAMSMap.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogLevel",
			usage: `
              LogLevel is the minimum level of log messages to print:
              debug, info, warn or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LogJSON",
			usage: `
              LogJSON prints log messages as JSON objects.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "DataDir",
			usage: `
              DataDir is the directory that holds the downloaded archives,
              the extracted NetCDF files and downloaded assets.`,
			shorthand:  "d",
			defaultVal: "data",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "OutputDir",
			usage: `
              OutputDir is the directory that frames, animations and
              archives are written to.`,
			shorthand:  "o",
			defaultVal: "imagery",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Products",
			usage: `
              Products lists the products to process. By default all products
              in the catalog are processed.`,
			shorthand:  "p",
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ProductsFile",
			usage: `
              ProductsFile is a TOML file with [[request]] and [[product]]
              tables that replace the built-in catalog.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Date",
			usage: `
              Date is the forecast date in the format YYYY-MM-DD.
              The default is yesterday.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "MaxLeadHour",
			usage: `
              MaxLeadHour is the last forecast lead time to request, in hours.`,
			defaultVal: 120,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Fetch.URL",
			usage: `
              Fetch.URL is the data store API URL. By default it is read from
              CDSAPI_URL or the rc file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Fetch.Key",
			usage: `
              Fetch.Key is the data store API key. By default it is read from
              CDSAPI_KEY or the rc file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Fetch.RCFile",
			usage: `
              Fetch.RCFile is the YAML file holding the 'url:' and 'key:' of
              the data store API.`,
			defaultVal: cdsapi.DefaultRCFile(),
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Fetch.Cache",
			usage: `
              Fetch.Cache reuses previously downloaded archives for identical
              requests.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Fetch.Clean",
			usage: `
              Fetch.Clean removes zip and NetCDF files from the top level of
              DataDir before fetching.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Fetch.PollInterval",
			usage: `
              Fetch.PollInterval is the time between checks of a pending
              request.`,
			defaultVal: "5s",
			flagsets:   []*pflag.FlagSet{fetchCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "archive",
			usage: `
              archive is the zip file to extract. By default the only zip file
              in DataDir is used.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{extractCmd.Flags()},
		},
		{
			name: "suffix",
			usage: `
              suffix is appended to the extracted file names, as in
              data_sfc_<suffix>.nc.`,
			defaultVal: "polvo",
			flagsets:   []*pflag.FlagSet{extractCmd.Flags()},
		},
		{
			name: "UTCOffset",
			usage: `
              UTCOffset is the offset of local time from UTC in hours, used for
              frame labels.`,
			defaultVal: -6.0,
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers is the number of frames rendered at once. Zero means
              one per CPU.`,
			shorthand:  "w",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "FrameTimeout",
			usage: `
              FrameTimeout is the longest time a single frame may take before
              it is skipped.`,
			defaultVal: "2m",
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "FrameWidth",
			usage: `
              FrameWidth is the width of each frame in inches.`,
			defaultVal: 12.0,
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "DPI",
			usage: `
              DPI is the resolution of each frame.`,
			defaultVal: 100,
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Attribution",
			usage: `
              Attribution is the second line of the frame titles.`,
			defaultVal: camsmap.DefaultAttribution,
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "ClampNonPositive",
			usage: `
              ClampNonPositive treats values <= 0 as missing for every product.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Boundaries",
			usage: `
              Boundaries maps boundary layer names to shapefiles, for example
              {"coast":"coast.shp","region":"ca.shp"}. Paths may be http(s),
              gs://, s3:// or file:// URLs.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Logo",
			usage: `
              Logo is an image placed in the lower right corner of each frame.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "LegendImage",
			usage: `
              LegendImage is an image of the category legend placed in the
              lower left corner of categorical frames.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{renderCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Package",
			usage: `
              Package creates an animated GIF and a zip archive of the frames
              of each product.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "GIFDelay",
			usage: `
              GIFDelay is the time each animation frame is shown, in
              hundredths of a second.`,
			defaultVal: camsmap.DefaultGIFDelay,
			flagsets:   []*pflag.FlagSet{packageCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Publish.Destination",
			usage: `
              Publish.Destination is where the artifacts of each product are
              copied: a directory, a file://, s3:// or gs:// bucket, a
              minio://host/bucket/prefix endpoint, or an rsync host:path.
              Nothing is published if it is empty.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{publishCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Publish.Timeout",
			usage: `
              Publish.Timeout limits the time spent publishing one product.`,
			defaultVal: "10m",
			flagsets:   []*pflag.FlagSet{publishCmd.Flags(), runCmd.Flags()},
		},
		{
			name: "Metrics.PushGateway",
			usage: `
              Metrics.PushGateway is the URL of a Prometheus Pushgateway that
              run metrics are sent to.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CAMSMAP")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, v, option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, v, option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, v, option.usage)
			case int:
				set.IntP(option.name, option.shorthand, v, option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, v, option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				json.NewEncoder(b).Encode(v)
				set.StringP(option.name, option.shorthand, strings.TrimSpace(b.String()), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(fetchCmd)
	Root.AddCommand(extractCmd)
	Root.AddCommand(renderCmd)
	Root.AddCommand(packageCmd)
	Root.AddCommand(publishCmd)
	Root.AddCommand(runCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets up logging.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(os.ExpandEnv(cfgpath))
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("camsmap: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(Cfg.GetString("LogLevel"))
	if err != nil {
		return fmt.Errorf("camsmap: %v", err)
	}
	logrus.SetLevel(level)
	if Cfg.GetBool("LogJSON") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}

// pipeline returns a pipeline configured from Cfg.
func pipeline() (*Pipeline, error) {
	c, err := ConfigFromViper(Cfg, Clock)
	if err != nil {
		return nil, err
	}
	p := NewPipeline(c, logrus.StandardLogger())
	p.Clock = Clock
	return p, nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "camsmap",
	Short: "Forecast imagery from CAMS atmospheric composition forecasts.",
	Long: `CAMSMap downloads CAMS global atmospheric composition forecasts and turns
them into map frames, animations and archives of dust and particulate matter.
Use the subcommands specified below to run the whole pipeline or a single stage.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'CAMSMAP_var' where 'var' is the
name of the variable to be set, with periods replaced by underscores.
Path variables may contain environment variables.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of CAMSMap.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("CAMSMap v%s\n", camsmap.Version)
	},
	DisableAutoGenTag: true,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download and extract forecast data",
	Long: `fetch submits each request in the catalog to the data store, downloads
the resulting archives into DataDir/cache, and extracts them into DataDir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline()
		if err != nil {
			return err
		}
		return p.Fetch(cmd.Context())
	},
	DisableAutoGenTag: true,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a downloaded archive",
	Long: `extract unpacks a forecast archive into DataDir, renaming the pressure
level and surface files to data_plev_<suffix>.nc and data_sfc_<suffix>.nc.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := os.ExpandEnv(Cfg.GetString("DataDir"))
		archive := os.ExpandEnv(Cfg.GetString("archive"))
		if archive == "" {
			var err error
			if archive, err = cdsapi.SingleArchive(dir); err != nil {
				return err
			}
		}
		files, err := cdsapi.Extract(archive, dir, Cfg.GetString("suffix"), logrus.StandardLogger())
		if err != nil {
			return err
		}
		for _, f := range files {
			cmd.Println(f)
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render frames",
	Long: `render draws one frame per forecast step for each product from the
NetCDF files in DataDir. Frames are written to OutputDir as <base>_NNN.png.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline()
		if err != nil {
			return err
		}
		products, err := p.Config.Catalog.Select(p.Config.Products)
		if err != nil {
			return err
		}
		if _, err := checkOutputDir(p.Config.OutputDir); err != nil {
			return err
		}
		assets, err := p.LoadAssets(cmd.Context())
		if err != nil {
			return err
		}
		for i := range products {
			if _, err := p.Render(cmd.Context(), &products[i], assets); err != nil {
				return err
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Create animations and archives",
	Long: `package assembles the frames of each product found in OutputDir into
<base>.gif and <base>.zip.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline()
		if err != nil {
			return err
		}
		products, err := p.Config.Catalog.Select(p.Config.Products)
		if err != nil {
			return err
		}
		for i := range products {
			base := p.Config.base(&products[i])
			frames, err := camsmap.ExistingFrames(base)
			if err != nil {
				return err
			}
			if err := p.Package(&camsmap.ArtifactSet{Base: base, Frames: frames}); err != nil {
				return err
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var publishCmd = &cobra.Command{
	Use:   "publish [glob...]",
	Short: "Publish artifacts",
	Long: `publish copies the frames, animation and archive of each product to
Publish.Destination/<product>. If glob patterns are given, the matching files
are copied directly to Publish.Destination instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := os.ExpandEnv(Cfg.GetString("Publish.Destination"))
		if dest == "" {
			return fmt.Errorf("camsmap: Publish.Destination is not set")
		}
		ctx := cmd.Context()
		if len(args) > 0 {
			if t := Cfg.GetDuration("Publish.Timeout"); t > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t)
				defer cancel()
			}
			for _, g := range args {
				if err := publish.Publish(ctx, os.ExpandEnv(g), dest); err != nil {
					return err
				}
			}
			return nil
		}
		p, err := pipeline()
		if err != nil {
			return err
		}
		products, err := p.Config.Catalog.Select(p.Config.Products)
		if err != nil {
			return err
		}
		for i := range products {
			p.Publish(ctx, &products[i])
		}
		return nil
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline",
	Long: `run fetches the forecast, renders every product, packages the frames and
publishes the results. Publishing failures are logged but do not stop the run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pipeline()
		if err != nil {
			return err
		}
		return p.Run(cmd.Context())
	},
	DisableAutoGenTag: true,
}

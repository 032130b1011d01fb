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

package camsutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jonboulle/clockwork"
	"github.com/spatialmodel/camsmap"
	"github.com/spatialmodel/camsmap/cdsapi"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gonum.org/v1/plot/vg"
)

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		o := make(map[string]string)
		if strings.TrimSpace(v) == "" {
			return o, nil
		}
		d := json.NewDecoder(bytes.NewBufferString(v))
		if err := d.Decode(&o); err != nil {
			return nil, fmt.Errorf("%s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("invalid type for map variable %s: %#v", varName, i)
	}
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// checkOutputDir expands any environment variables in dir and creates it
// if it does not exist.
func checkOutputDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("you need to specify an output directory (for example: OutputDir=imagery)")
	}
	dir = os.ExpandEnv(dir)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return dir, fmt.Errorf("camsmap: creating output directory: %v", err)
	}
	return dir, nil
}

// forecastDate parses a YYYY-MM-DD date. An empty string means the day
// before the current date of clock.
func forecastDate(s string, clock clockwork.Clock) (time.Time, error) {
	if s == "" {
		now := clock.Now().UTC()
		d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return d.AddDate(0, 0, -1), nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid Date %q: must be YYYY-MM-DD", s)
	}
	return d, nil
}

// Catalog holds the forecast requests and the products rendered from them.
type Catalog struct {
	Requests []cdsapi.NamedRequest `toml:"request"`
	Products []camsmap.Product     `toml:"product"`
}

// DefaultCatalog returns the built-in requests and products.
func DefaultCatalog(maxLead int) *Catalog {
	return &Catalog{
		Requests: cdsapi.DefaultRequests(maxLead),
		Products: camsmap.DefaultProducts(),
	}
}

// LoadCatalog reads a catalog from a TOML file. Sections that are absent
// from the file are taken from the default catalog.
func LoadCatalog(path string, maxLead int) (*Catalog, error) {
	c := new(Catalog)
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("camsmap: reading catalog %s: %v", path, err)
	}
	def := DefaultCatalog(maxLead)
	if len(c.Requests) == 0 {
		c.Requests = def.Requests
	}
	if len(c.Products) == 0 {
		c.Products = def.Products
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("camsmap: catalog %s: %w", path, err)
	}
	return c, nil
}

// Validate checks each product and checks that names are unique.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool)
	for i := range c.Products {
		p := &c.Products[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate product %s", p.Name)
		}
		seen[p.Name] = true
	}
	for _, r := range c.Requests {
		if r.Name == "" {
			return fmt.Errorf("request is missing a name")
		}
	}
	return nil
}

// Select returns the named products in catalog order, or all products
// if names is empty.
func (c *Catalog) Select(names []string) ([]camsmap.Product, error) {
	if len(names) == 0 {
		return c.Products, nil
	}
	want := make(map[string]bool)
	for _, n := range names {
		want[n] = true
	}
	var o []camsmap.Product
	for _, p := range c.Products {
		if want[p.Name] {
			o = append(o, p)
			delete(want, p.Name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("camsmap: unknown product %q", n)
	}
	return o, nil
}

// Config holds the settings of a pipeline run.
type Config struct {
	OutputDir, DataDir string
	Date               time.Time
	UTCOffset          time.Duration
	MaxLeadHour        int

	Workers      int
	FrameTimeout time.Duration
	FrameWidth   vg.Length
	DPI          int
	Attribution  string

	Products         []string
	ClampNonPositive bool

	Boundaries        map[string]string
	Logo, LegendImage string

	Package  bool
	GIFDelay int

	PublishDestination string
	PublishTimeout     time.Duration

	FetchURL, FetchKey string
	FetchRCFile        string
	FetchCache         bool
	FetchClean         bool
	FetchPollInterval  time.Duration

	MetricsPushGateway string

	Catalog *Catalog
}

// ConfigFromViper reads a Config from cfg, using clock for the default
// forecast date.
func ConfigFromViper(cfg *viper.Viper, clock clockwork.Clock) (*Config, error) {
	date, err := forecastDate(os.ExpandEnv(cfg.GetString("Date")), clock)
	if err != nil {
		return nil, err
	}
	boundaries, err := GetStringMapString("Boundaries", cfg)
	if err != nil {
		return nil, err
	}
	for k, v := range boundaries {
		boundaries[k] = os.ExpandEnv(v)
	}
	c := &Config{
		OutputDir:          os.ExpandEnv(cfg.GetString("OutputDir")),
		DataDir:            os.ExpandEnv(cfg.GetString("DataDir")),
		Date:               date,
		UTCOffset:          time.Duration(cfg.GetFloat64("UTCOffset") * float64(time.Hour)),
		MaxLeadHour:        cfg.GetInt("MaxLeadHour"),
		Workers:            cfg.GetInt("Workers"),
		FrameTimeout:       cfg.GetDuration("FrameTimeout"),
		FrameWidth:         vg.Length(cfg.GetFloat64("FrameWidth")) * vg.Inch,
		DPI:                cfg.GetInt("DPI"),
		Attribution:        cfg.GetString("Attribution"),
		Products:           cfg.GetStringSlice("Products"),
		ClampNonPositive:   cfg.GetBool("ClampNonPositive"),
		Boundaries:         boundaries,
		Logo:               os.ExpandEnv(cfg.GetString("Logo")),
		LegendImage:        os.ExpandEnv(cfg.GetString("LegendImage")),
		Package:            cfg.GetBool("Package"),
		GIFDelay:           cfg.GetInt("GIFDelay"),
		PublishDestination: os.ExpandEnv(cfg.GetString("Publish.Destination")),
		PublishTimeout:     cfg.GetDuration("Publish.Timeout"),
		FetchURL:           os.ExpandEnv(cfg.GetString("Fetch.URL")),
		FetchKey:           cfg.GetString("Fetch.Key"),
		FetchRCFile:        os.ExpandEnv(cfg.GetString("Fetch.RCFile")),
		FetchCache:         cfg.GetBool("Fetch.Cache"),
		FetchClean:         cfg.GetBool("Fetch.Clean"),
		FetchPollInterval:  cfg.GetDuration("Fetch.PollInterval"),
		MetricsPushGateway: os.ExpandEnv(cfg.GetString("Metrics.PushGateway")),
	}
	if c.DataDir == "" {
		return nil, fmt.Errorf("you need to specify a data directory (for example: DataDir=data)")
	}
	if !(c.FrameWidth > 0) || c.DPI <= 0 {
		return nil, fmt.Errorf("FrameWidth and DPI must be > 0, but are %g and %d", cfg.GetFloat64("FrameWidth"), c.DPI)
	}
	if c.MaxLeadHour < 0 {
		return nil, fmt.Errorf("MaxLeadHour must be >= 0, but is %d", c.MaxLeadHour)
	}
	if f := os.ExpandEnv(cfg.GetString("ProductsFile")); f != "" {
		if c.Catalog, err = LoadCatalog(f, c.MaxLeadHour); err != nil {
			return nil, err
		}
	} else {
		c.Catalog = DefaultCatalog(c.MaxLeadHour)
	}
	for i := range c.Catalog.Requests {
		c.Catalog.Requests[i].SetDate(c.Date)
	}
	return c, nil
}

// base returns the output path prefix of p.
func (c *Config) base(p *camsmap.Product) string {
	return filepath.Join(c.OutputDir, p.Base)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/mschienbein/deez-sub002/deezer/types"
	"github.com/mschienbein/deez-sub002/redact"
)

type Config struct {
	Log    Log    `yaml:"log"`
	Deezer Deezer `yaml:"deezer"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("deezer", c.Deezer.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.Deezer.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Deezer.validate(); nil != err {
		return fmt.Errorf("deezer config validation failed: %v", err)
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "auto"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: trace, debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty", "auto"}, c.Format) {
		return fmt.Errorf("format must be 'json', 'pretty', or 'auto', got: %s", c.Format)
	}

	return nil
}

type Deezer struct {
	Credential       string    `yaml:"-"`
	CredentialFile   string    `yaml:"credential_file"`
	GatewayURL       string    `yaml:"gateway_url"`
	MediaHostPattern string    `yaml:"media_host_pattern"`
	CoverHostPattern string    `yaml:"cover_host_pattern"`
	SessionFile      string    `yaml:"session_file"`
	ArchiveFile      string    `yaml:"archive_file"`
	Downloads        Downloads `yaml:"downloads"`
}

func (c *Deezer) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("credential", redact.String(c.Credential)).
		Str("credential_file", c.CredentialFile).
		Str("gateway_url", c.GatewayURL).
		Str("media_host_pattern", c.MediaHostPattern).
		Str("cover_host_pattern", c.CoverHostPattern).
		Str("session_file", c.SessionFile).
		Str("archive_file", c.ArchiveFile).
		Dict("downloads", c.Downloads.ToDict())
}

func (c *Deezer) setDefaults() {
	if c.CredentialFile == "" {
		c.CredentialFile = "./arl.json"
	}

	if c.GatewayURL == "" {
		c.GatewayURL = "https://www.deezer.com/ajax/gw-light.php"
	}

	if c.MediaHostPattern == "" {
		c.MediaHostPattern = "https://e-cdns-proxy-%s.dzcdn.net/mobile/1/%s"
	}

	if c.CoverHostPattern == "" {
		c.CoverHostPattern = "https://e-cdns-images.dzcdn.net/images/cover/%s/1200x1200-000000-80-0-0.jpg"
	}

	c.Downloads.setDefaults()
}

func (c *Deezer) validate() error {
	if err := c.Downloads.validate(); nil != err {
		return fmt.Errorf("downloads config validation failed: %v", err)
	}

	return nil
}

type Downloads struct {
	Dir               string           `yaml:"dir"`
	Parallel          int              `yaml:"parallel"`
	Quality           string           `yaml:"quality"`
	FallbackQuality   string           `yaml:"fallback_quality"`
	MaxRetries        int              `yaml:"max_retries"`
	SkipTagging       bool             `yaml:"skip_tagging"`
	RequestsPerSecond float64          `yaml:"requests_per_second"`
	Timeouts          DownloadTimeouts `yaml:"timeouts"`
}

func (c *Downloads) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("dir", c.Dir).
		Int("parallel", c.Parallel).
		Str("quality", c.Quality).
		Str("fallback_quality", c.FallbackQuality).
		Int("max_retries", c.MaxRetries).
		Bool("skip_tagging", c.SkipTagging).
		Float64("requests_per_second", c.RequestsPerSecond).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Downloads) setDefaults() {
	if c.Dir == "" {
		c.Dir = "./downloads"
	}

	if c.Parallel == 0 {
		c.Parallel = 2
	}

	if c.Quality == "" {
		c.Quality = types.QualityLossless.String()
	}

	if c.FallbackQuality == "" {
		c.FallbackQuality = types.QualityHigh.String()
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}

	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 1
	}

	c.Timeouts.setDefaults()
}

func (c *Downloads) validate() error {
	if i, err := os.Stat(c.Dir); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return errors.New("downloads dir does not exist")
		}

		return fmt.Errorf("failed to stat downloads dir: %v", err)
	} else if !i.IsDir() {
		return errors.New("downloads dir must be a directory")
	}

	if c.Parallel < 0 {
		return errors.New("parallel must be greater than 0")
	}

	if c.MaxRetries < 0 {
		return errors.New("max_retries must be greater than 0")
	}

	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be greater than 0")
	}

	if _, err := types.ParseQuality(c.Quality); nil != err {
		return fmt.Errorf("invalid quality: %v", err)
	}

	if _, err := types.ParseQuality(c.FallbackQuality); nil != err {
		return fmt.Errorf("invalid fallback_quality: %v", err)
	}

	return nil
}

type DownloadTimeouts struct {
	Bootstrap     int `yaml:"bootstrap"`
	ResolveTrack  int `yaml:"resolve_track"`
	GetTrackList  int `yaml:"get_track_list"`
	DownloadCover int `yaml:"download_cover"`
	DownloadTrack int `yaml:"download_track"`
}

func (c *DownloadTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("bootstrap", c.Bootstrap).
		Int("resolve_track", c.ResolveTrack).
		Int("get_track_list", c.GetTrackList).
		Int("download_cover", c.DownloadCover).
		Int("download_track", c.DownloadTrack)
}

func (c *DownloadTimeouts) setDefaults() {
	if c.Bootstrap == 0 {
		c.Bootstrap = 10
	}

	if c.ResolveTrack == 0 {
		c.ResolveTrack = 10
	}

	if c.GetTrackList == 0 {
		c.GetTrackList = 15
	}

	if c.DownloadCover == 0 {
		c.DownloadCover = 10
	}

	if c.DownloadTrack == 0 {
		c.DownloadTrack = 120
	}
}

func (c *DownloadTimeouts) validate() error {
	if c.Bootstrap < 0 {
		return errors.New("bootstrap must be greater than 0")
	}

	if c.ResolveTrack < 0 {
		return errors.New("resolve_track must be greater than 0")
	}

	if c.GetTrackList < 0 {
		return errors.New("get_track_list must be greater than 0")
	}

	if c.DownloadCover < 0 {
		return errors.New("download_cover must be greater than 0")
	}

	if c.DownloadTrack < 0 {
		return errors.New("download_track must be greater than 0")
	}

	return nil
}

func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(lo.Ternary(len(filename) > 0, filename, "config.yaml"))
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}

	conf.Deezer.Credential = os.Getenv("DEEZER_ARL")
	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}

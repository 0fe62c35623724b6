// Package config loads settings for the relay and softphone binaries.
//
// Values are layered: built-in defaults, then an optional YAML file
// (--config or YACALL_CONFIG), then YACALL_* environment variables, then
// flags given on the command line.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "YACALL_"

const (
	CaptureSynthetic = "synthetic"
	CaptureDevice    = "device"
)

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Relay
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Softphone
	RelayURL           string        `yaml:"relay_url"`
	User               string        `yaml:"user"`
	Call               string        `yaml:"call"`
	Remote             string        `yaml:"remote"`
	Answer             bool          `yaml:"answer"`
	Capture            string        `yaml:"capture"`
	Audio              bool          `yaml:"audio"`
	Video              bool          `yaml:"video"`
	STUNURLs           []string      `yaml:"stun_urls"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	RecorderURL        string        `yaml:"recorder_url"`
}

func Default() Config {
	return Config{
		LogLevel:           "info",
		LogFormat:          LogFormatConsole,
		ListenAddr:         ":8080",
		ShutdownTimeout:    5 * time.Second,
		RelayURL:           "ws://localhost:8080/ws",
		Capture:            CaptureSynthetic,
		Audio:              true,
		Video:              true,
		STUNURLs:           append([]string(nil), DefaultSTUNURLs...),
		NegotiationTimeout: 45 * time.Second,
	}
}

// Load reads the configuration for the named binary from the process
// environment and args.
func Load(name string, args []string) (Config, error) {
	return load(os.LookupEnv, name, args)
}

func load(lookup func(string) (string, bool), name string, args []string) (Config, error) {
	cfg := Default()

	var configFile string
	var stunURLs string
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&configFile, "config", "", "YAML config file (env "+envPrefix+"CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: trace, debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "Relay HTTP listen address")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	fs.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "Signaling relay WebSocket URL")
	fs.StringVar(&cfg.User, "user", cfg.User, "Own user id (generated when empty)")
	fs.StringVar(&cfg.Call, "call", cfg.Call, "Call id to accept; answers instead of calling")
	fs.StringVar(&cfg.Remote, "remote", cfg.Remote, "User id of the other participant")
	fs.BoolVar(&cfg.Answer, "answer", cfg.Answer, "Wait for an offer from remote and answer it")
	fs.StringVar(&cfg.Capture, "capture", cfg.Capture, "Media source: synthetic or device")
	fs.BoolVar(&cfg.Audio, "audio", cfg.Audio, "Send audio")
	fs.BoolVar(&cfg.Video, "video", cfg.Video, "Send video")
	fs.StringVar(&stunURLs, "stun-urls", strings.Join(cfg.STUNURLs, ","), "Comma-separated STUN URLs")
	fs.DurationVar(&cfg.NegotiationTimeout, "negotiation-timeout", cfg.NegotiationTimeout, "Give up on a call that has not connected after this long (0 disables)")
	fs.StringVar(&cfg.RecorderURL, "recorder-url", cfg.RecorderURL, "Record-keeper endpoint (records are only logged when empty)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return Config{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	// Flags were parsed into cfg so pflag could show defaults. Rebuild from
	// the lower layers and reapply only the flags that were set.
	flagged := cfg
	flaggedSTUN := splitCommaSeparated(stunURLs)
	cfg = Default()

	if configFile == "" {
		configFile, _ = lookup(envPrefix + "CONFIG")
	}
	if configFile != "" {
		if err := cfg.loadFile(configFile); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", configFile, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = flagged.LogLevel
		case "log-format":
			cfg.LogFormat = flagged.LogFormat
		case "listen-addr":
			cfg.ListenAddr = flagged.ListenAddr
		case "shutdown-timeout":
			cfg.ShutdownTimeout = flagged.ShutdownTimeout
		case "relay-url":
			cfg.RelayURL = flagged.RelayURL
		case "user":
			cfg.User = flagged.User
		case "call":
			cfg.Call = flagged.Call
		case "remote":
			cfg.Remote = flagged.Remote
		case "answer":
			cfg.Answer = flagged.Answer
		case "capture":
			cfg.Capture = flagged.Capture
		case "audio":
			cfg.Audio = flagged.Audio
		case "video":
			cfg.Video = flagged.Video
		case "stun-urls":
			cfg.STUNURLs = flaggedSTUN
		case "negotiation-timeout":
			cfg.NegotiationTimeout = flagged.NegotiationTimeout
		case "recorder-url":
			cfg.RecorderURL = flagged.RecorderURL
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(envPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = b
		return nil
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("RELAY_URL", &c.RelayURL)
	str("USER", &c.User)
	str("CALL", &c.Call)
	str("REMOTE", &c.Remote)
	str("CAPTURE", &c.Capture)
	str("RECORDER_URL", &c.RecorderURL)
	if v, ok := lookup(envPrefix + "STUN_URLS"); ok && strings.TrimSpace(v) != "" {
		c.STUNURLs = splitCommaSeparated(v)
	}

	return errors.Join(
		dur("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout),
		dur("NEGOTIATION_TIMEOUT", &c.NegotiationTimeout),
		boolean("ANSWER", &c.Answer),
		boolean("AUDIO", &c.Audio),
		boolean("VIDEO", &c.Video),
	)
}

// Validate checks values shared by both binaries. Softphone-only checks live
// in Softphone.
func (c Config) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("invalid log format %q (expected console or json)", c.LogFormat)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.NegotiationTimeout < 0 {
		return errors.New("negotiation timeout must not be negative")
	}
	return nil
}

// Softphone is the resolved configuration of one softphone run.
type Softphone struct {
	User        domain.UserID
	Remote      domain.UserID
	Call        domain.CallID // zero unless accepting a known call
	Answer      bool
	Device      bool
	ICEServers  []port.ICEServer
	Constraints port.Constraints
}

// Accepting reports whether the softphone answers a call it was told about
// rather than placing one.
func (s Softphone) Accepting() bool { return s.Answer || !s.Call.IsZero() }

func (c Config) Softphone() (Softphone, error) {
	var s Softphone
	var err error

	if c.User == "" {
		s.User = domain.NewUserID()
	} else if s.User, err = domain.ParseUserID(c.User); err != nil {
		return Softphone{}, fmt.Errorf("user: %w", err)
	}
	if c.Remote == "" {
		return Softphone{}, errors.New("remote is required")
	}
	if s.Remote, err = domain.ParseUserID(c.Remote); err != nil {
		return Softphone{}, fmt.Errorf("remote: %w", err)
	}
	if s.Remote == s.User {
		return Softphone{}, errors.New("remote must differ from user")
	}
	if c.Call != "" {
		if s.Call, err = domain.ParseCallID(c.Call); err != nil {
			return Softphone{}, fmt.Errorf("call: %w", err)
		}
	}
	s.Answer = c.Answer

	switch c.Capture {
	case CaptureSynthetic:
	case CaptureDevice:
		s.Device = true
	default:
		return Softphone{}, fmt.Errorf("invalid capture %q (expected synthetic or device)", c.Capture)
	}
	if !c.Audio && !c.Video {
		return Softphone{}, errors.New("at least one of audio or video must be enabled")
	}
	s.Constraints = port.Constraints{Audio: c.Audio, Video: c.Video}

	if s.ICEServers, err = ParseICEServers(c.STUNURLs); err != nil {
		return Softphone{}, fmt.Errorf("stun urls: %w", err)
	}
	return s, nil
}

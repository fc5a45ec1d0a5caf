package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ritzau/mindmap/pkg/geometry"
	"github.com/ritzau/mindmap/pkg/interaction"
	"github.com/ritzau/mindmap/pkg/layout"
	"github.com/ritzau/mindmap/pkg/mindmap"
	"github.com/ritzau/mindmap/pkg/render"
	"gonum.org/v1/gonum/spatial/r2"
)

// DefaultFile is read from the working directory when no file is named
const DefaultFile = "mindmap.toml"

// EnvPrefix prefixes every environment override (e.g. MINDMAP_PORT=9090,
// MINDMAP_LAYOUT_MIN_DISTANCE=200)
const EnvPrefix = "MINDMAP_"

// DefaultBaseURL is Groq's OpenAI-compatible endpoint
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// sections are the nested tables; env keys split after them
var sections = []string{"layout", "view", "interaction", "render", "assistant"}

// Config holds all configuration for the application
type Config struct {
	Port       int    `koanf:"port"`
	Open       bool   `koanf:"open"`
	Verbosity  string `koanf:"verbosity"`
	VerboseCnt int    `koanf:"verbose"`
	JSONLogs   bool   `koanf:"json_logs"`
	Strict     bool   `koanf:"strict"`
	Watch      bool   `koanf:"watch"`
	File       string `koanf:"config"`

	Layout      layout.Config `koanf:"layout"`
	View        View          `koanf:"view"`
	Interaction Interaction   `koanf:"interaction"`
	Render      Render        `koanf:"render"`
	Assistant   Assistant     `koanf:"assistant"`
}

// View bounds the zoom and sizes the initial viewport
type View struct {
	MinZoom  float64 `koanf:"min_zoom"`
	MaxZoom  float64 `koanf:"max_zoom"`
	Width    float64 `koanf:"width"`
	Height   float64 `koanf:"height"`
	ZoomStep float64 `koanf:"zoom_step"`
}

// Interaction holds gesture thresholds
type Interaction struct {
	ClickMs int     `koanf:"click_ms"`
	DragPx  float64 `koanf:"drag_px"`
}

// Render holds node coloring
type Render struct {
	Hue       float64 `koanf:"hue"`
	MaxVolume int     `koanf:"max_volume"`
}

// Assistant configures the optional chat-completions producer. It is
// disabled when no API key is set.
type Assistant struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
}

// Enabled reports whether an assistant can be created
func (a Assistant) Enabled() bool {
	return a.APIKey != ""
}

func defaults() map[string]any {
	lc := layout.DefaultConfig()
	ic := interaction.DefaultConfig()
	pal := render.DefaultPalette()
	lim := geometry.DefaultLimits()

	return map[string]any{
		"port":      8080,
		"open":      true,
		"verbosity": "",
		"verbose":   0,
		"json_logs": false,
		"strict":    false,
		"watch":     false,
		"config":    "",
		"layout": map[string]any{
			"min_distance": lc.MinDistance,
			"spacing":      lc.Spacing,
			"angle_step":   lc.AngleStep,
			"max_steps":    lc.MaxSteps,
		},
		"view": map[string]any{
			"min_zoom":  lim.MinZoom,
			"max_zoom":  lim.MaxZoom,
			"width":     1280.0,
			"height":    800.0,
			"zoom_step": ic.ZoomStep,
		},
		"interaction": map[string]any{
			"click_ms": ic.ClickMs,
			"drag_px":  ic.DragPx,
		},
		"render": map[string]any{
			"hue":        pal.Hue,
			"max_volume": pal.MaxVolume,
		},
		"assistant": map[string]any{
			"base_url": DefaultBaseURL,
			"model":    "llama3-70b-8192",
			"api_key":  os.Getenv("GROQ_API_KEY"),
		},
	}
}

// RegisterFlags adds the command-line flags Load understands
func RegisterFlags(f *pflag.FlagSet) {
	f.IntP("port", "p", 8080, "HTTP port")
	f.Bool("open", true, "Open the browser on start")
	f.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	f.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	f.Bool("json_logs", false, "Log as JSON")
	f.Bool("strict", false, "Fail on invalid node references instead of ignoring them")
	f.Bool("watch", false, "Reload tunables when the config file changes")
	f.StringP("config", "c", "", "Config file (default "+DefaultFile+" if present)")
	f.String("assistant.model", "", "Chat completion model")
	f.String("assistant.base_url", "", "OpenAI-compatible API base URL")
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file. The default file is optional; a named one is not.
	path, explicit := configPath(f)
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	// 3. Environment Variables
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configPath resolves the config file from the flag, then the
// environment, then the default name
func configPath(f *pflag.FlagSet) (string, bool) {
	if f != nil {
		if fl := f.Lookup("config"); fl != nil && fl.Changed {
			return fl.Value.String(), true
		}
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p, true
	}
	return DefaultFile, false
}

// envKey maps MINDMAP_LAYOUT_MIN_DISTANCE to layout.min_distance
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if rest, ok := strings.CutPrefix(key, sec+"_"); ok {
			return sec + "." + rest
		}
	}
	return key
}

// Validate rejects values no component can work with
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Port > 0 && c.Port < 65536, "port %d out of range", c.Port)
	check(c.Layout.MinDistance > 0, "layout.min_distance must be positive")
	check(c.Layout.Spacing > 0, "layout.spacing must be positive")
	check(c.Layout.AngleStep > 0, "layout.angle_step must be positive")
	check(c.Layout.MaxSteps > 0, "layout.max_steps must be positive")
	check(c.View.MinZoom > 0 && c.View.MinZoom <= c.View.MaxZoom,
		"view zoom limits [%g, %g] are not an interval", c.View.MinZoom, c.View.MaxZoom)
	check(c.View.Width > 0 && c.View.Height > 0, "view size must be positive")
	check(c.View.ZoomStep > 1, "view.zoom_step must exceed 1")
	check(c.Interaction.ClickMs > 0, "interaction.click_ms must be positive")
	check(c.Interaction.DragPx >= 0, "interaction.drag_px must not be negative")
	check(c.Render.MaxVolume > 0, "render.max_volume must be positive")

	return errors.Join(errs...)
}

// Options converts the tunables into session options
func (c *Config) Options() mindmap.Options {
	opts := mindmap.DefaultOptions()
	opts.Layout = c.Layout
	opts.Interaction = interaction.Config{
		ClickMs:  c.Interaction.ClickMs,
		DragPx:   c.Interaction.DragPx,
		ZoomStep: c.View.ZoomStep,
	}
	opts.Palette.Hue = c.Render.Hue
	opts.Palette.MaxVolume = c.Render.MaxVolume
	opts.Limits = geometry.Limits{MinZoom: c.View.MinZoom, MaxZoom: c.View.MaxZoom}
	opts.Viewport = r2.Vec{X: c.View.Width, Y: c.View.Height}
	opts.Strict = c.Strict
	return opts
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]any
}

func makeMapProvider(m map[string]any) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]any, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/cel-go/cel"
	"github.com/k1LoW/expand"
)

var (
	homePath       string
	configHomePath string
	stateHomePath  string
)

type Config struct {
	// Viewport size such as 1280x800
	Viewport string `yaml:"viewport,omitempty" json:"viewport,omitempty"`
	// How to move content between tiles: scroll or css
	StitchMode string `yaml:"stitchMode,omitempty" json:"stitchMode,omitempty"`
	// Pixels shared by neighbouring tiles
	StitchOverlap *int `yaml:"stitchOverlap,omitempty" json:"stitchOverlap,omitempty"`
	// Wait after every scroll before the screenshot, such as 200ms
	WaitBeforeScreenshots string `yaml:"waitBeforeScreenshots,omitempty" json:"waitBeforeScreenshots,omitempty"`
	HideScrollbars        *bool  `yaml:"hideScrollbars,omitempty" json:"hideScrollbars,omitempty"`
	// Capture whole pages instead of the viewport
	Fully *bool `yaml:"fully,omitempty" json:"fully,omitempty"`
	// command printing a PNG of the viewport to stdout, used instead of the browser screenshot
	ScreenshotCommand string `yaml:"screenshotCommand,omitempty" json:"screenshotCommand,omitempty"`
	// command uploading each capture from stdin and printing its URL
	UploadCommand string `yaml:"uploadCommand,omitempty" json:"uploadCommand,omitempty"`
	// Pixels cut from every capture, such as a sticky header
	Cut *Cut `yaml:"cut,omitempty" json:"cut,omitempty"`
	// Per-target overrides
	Rules []Rule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

type Cut struct {
	Header int `yaml:"header,omitempty" json:"header,omitempty"`
	Footer int `yaml:"footer,omitempty" json:"footer,omitempty"`
	Left   int `yaml:"left,omitempty" json:"left,omitempty"`
	Right  int `yaml:"right,omitempty" json:"right,omitempty"`
}

// Rule overrides settings for the targets its condition holds for.
type Rule struct {
	If             string   `yaml:"if" json:"if"` // CEL condition over url and index
	Selector       string   `yaml:"selector,omitempty" json:"selector,omitempty"`
	Frames         []string `yaml:"frames,omitempty" json:"frames,omitempty"`
	ScrollRoot     string   `yaml:"scrollRoot,omitempty" json:"scrollRoot,omitempty"`
	Fully          *bool    `yaml:"fully,omitempty" json:"fully,omitempty"`
	StitchMode     string   `yaml:"stitchMode,omitempty" json:"stitchMode,omitempty"`
	HideScrollbars *bool    `yaml:"hideScrollbars,omitempty" json:"hideScrollbars,omitempty"`
	Cut            *Cut     `yaml:"cut,omitempty" json:"cut,omitempty"`
	Skip           *bool    `yaml:"skip,omitempty" json:"skip,omitempty"` // whether to skip the target
}

// Target is the effective setting for one capture target.
type Target struct {
	URL            string
	Index          int
	Selector       string
	Frames         []string
	ScrollRoot     string
	Fully          bool
	StitchMode     string
	HideScrollbars bool
	Cut            *Cut
	Skip           bool
}

func init() {
	var err error
	homePath, err = os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
}

// Load loads the configuration from the config file.
// It searches for config files in the following order:
// 1. $XDG_CONFIG_HOME/vrt/config-{profile}.yml
// 2. $XDG_CONFIG_HOME/vrt/config.yml
// Environment variables in the file are expanded before decoding.
// If no config file is found, it returns an empty Config struct.
func Load(profile string) (*Config, error) {
	var configBasePaths []string
	if profile != "" {
		configBasePaths = append(configBasePaths, filepath.Join(configPath(), fmt.Sprintf("config-%s", profile)))
	}
	configBasePaths = append(configBasePaths, filepath.Join(configPath(), "config"))
	for _, basePath := range configBasePaths {
		for _, ext := range []string{".yml", ".yaml"} {
			configPath := basePath + ext
			if b, err := os.ReadFile(configPath); err == nil {
				return Parse(b)
			}
		}
	}
	// If no config file is found, return an empty config
	return &Config{}, nil
}

// Parse decodes and validates a config document.
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(expand.ExpandenvYAMLBytes(b), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Viewport != "" {
		if _, _, err := ParseViewport(c.Viewport); err != nil {
			return err
		}
	}
	if _, err := c.Wait(); err != nil {
		return err
	}
	if c.StitchOverlap != nil && *c.StitchOverlap < 0 {
		return fmt.Errorf("stitchOverlap must not be negative: %d", *c.StitchOverlap)
	}
	for i, r := range c.Rules {
		if strings.TrimSpace(r.If) == "" {
			return fmt.Errorf("rules[%d]: if is required", i)
		}
		if _, err := compile(r.If); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}
	return nil
}

// Wait returns waitBeforeScreenshots, zero when unset.
func (c *Config) Wait() (time.Duration, error) {
	if c.WaitBeforeScreenshots == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.WaitBeforeScreenshots)
	if err != nil {
		return 0, fmt.Errorf("invalid waitBeforeScreenshots %q: %w", c.WaitBeforeScreenshots, err)
	}
	return d, nil
}

// ParseViewport parses sizes such as 1280x800.
func ParseViewport(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid viewport %q: want WIDTHxHEIGHT", s)
	}
	width, err = strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid viewport width %q: %w", w, err)
	}
	height, err = strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid viewport height %q: %w", h, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport %q: size must be positive", s)
	}
	return width, height, nil
}

// TargetFor applies the rules matching url at index, in order, over the
// top-level settings.
func (c *Config) TargetFor(url string, index int) (*Target, error) {
	t := &Target{
		URL:        url,
		Index:      index,
		StitchMode: c.StitchMode,
		Cut:        c.Cut,
	}
	if c.Fully != nil {
		t.Fully = *c.Fully
	}
	if c.HideScrollbars != nil {
		t.HideScrollbars = *c.HideScrollbars
	}
	vars := map[string]any{"url": url, "index": index}
	for i, r := range c.Rules {
		ok, err := evaluate(r.If, vars)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate rules[%d]: %w", i, err)
		}
		if !ok {
			continue
		}
		if r.Selector != "" {
			t.Selector = r.Selector
		}
		if len(r.Frames) > 0 {
			t.Frames = r.Frames
		}
		if r.ScrollRoot != "" {
			t.ScrollRoot = r.ScrollRoot
		}
		if r.Fully != nil {
			t.Fully = *r.Fully
		}
		if r.StitchMode != "" {
			t.StitchMode = r.StitchMode
		}
		if r.HideScrollbars != nil {
			t.HideScrollbars = *r.HideScrollbars
		}
		if r.Cut != nil {
			t.Cut = r.Cut
		}
		if r.Skip != nil {
			t.Skip = *r.Skip
		}
	}
	return t, nil
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("url", cel.StringType),
		cel.Variable("index", cel.IntType),
	)
}

func compile(cond string) (cel.Program, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(cond)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compilation error for %q: %w", cond, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition %q does not evaluate to bool", cond)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition program creation error for %q: %w", cond, err)
	}
	return prg, nil
}

func evaluate(cond string, vars map[string]any) (bool, error) {
	prg, err := compile(cond)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("condition evaluation error for %q: %w", cond, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q does not evaluate to bool", cond)
	}
	return b, nil
}

// configPath returns the path to the configuration directory.
func configPath() string {
	if configHomePath != "" {
		return configHomePath
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		configHomePath = filepath.Join(v, "vrt")
	} else {
		configHomePath = filepath.Join(homePath, ".config", "vrt")
	}
	return configHomePath
}

func StateHomePath() string {
	if stateHomePath != "" {
		return stateHomePath
	}
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		stateHomePath = filepath.Join(v, "vrt")
	} else {
		stateHomePath = filepath.Join(homePath, ".local", "state", "vrt")
	}
	return stateHomePath
}

// Package config loads aimloop.yaml through viper and keeps it current.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"jordanella.com/aimloop/internal/control"
	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/hotkeys"
	"jordanella.com/aimloop/internal/input"
	"jordanella.com/aimloop/internal/logging"
	"jordanella.com/aimloop/internal/loop"
	"jordanella.com/aimloop/internal/notify"
	"jordanella.com/aimloop/internal/policy"
	"jordanella.com/aimloop/internal/tracker"
)

// EnvPrefix prefixes environment overrides, e.g. AIMLOOP_SERVER_ADDR.
const EnvPrefix = "AIMLOOP"

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TrackerConfig struct {
	AliasesFile        string        `mapstructure:"aliases_file"`
	RequireSameProcess bool          `mapstructure:"require_same_process"`
	ForegroundDelay    time.Duration `mapstructure:"foreground_delay"`
}

// Tracker returns the re-hook settings.
func (t TrackerConfig) Tracker() tracker.Config {
	return tracker.Config{RequireSameProcess: t.RequireSameProcess}
}

type CaptureConfig struct {
	Method  string        `mapstructure:"method"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PerceptionConfig struct {
	Color    cv.ColorConfig    `mapstructure:"color"`
	Hough    cv.HoughConfig    `mapstructure:"hough"`
	Template cv.TemplateConfig `mapstructure:"template"`
}

type GamepadConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HotkeysConfig struct {
	Stop string `mapstructure:"stop"`
}

// Config is the whole application configuration.
type Config struct {
	Log        logging.Config        `mapstructure:"log"`
	Server     ServerConfig          `mapstructure:"server"`
	Database   DatabaseConfig        `mapstructure:"database"`
	Tracker    TrackerConfig         `mapstructure:"tracker"`
	Capture    CaptureConfig         `mapstructure:"capture"`
	Loop       loop.Config           `mapstructure:"loop"`
	Perception PerceptionConfig      `mapstructure:"perception"`
	Policy     policy.Config         `mapstructure:"policy"`
	Input      input.Config          `mapstructure:"input"`
	Gamepad    GamepadConfig         `mapstructure:"gamepad"`
	Hotkeys    HotkeysConfig         `mapstructure:"hotkeys"`
	Preview    control.PreviewConfig `mapstructure:"preview"`
	Notify     notify.Config         `mapstructure:"notify"`
}

// LoopConfig returns the loop timing with the capture timeout filled in.
func (c Config) LoopConfig() loop.Config {
	l := c.Loop
	l.CaptureTimeout = c.Capture.Timeout
	return l
}

// Validate rejects values the components cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := cv.ParseCaptureMethod(c.Capture.Method); err != nil {
		errs = append(errs, err)
	}
	switch c.Loop.Mode {
	case loop.ModeHybrid, loop.ModeTemplate:
	default:
		errs = append(errs, fmt.Errorf("unknown loop mode %q", c.Loop.Mode))
	}
	switch c.Input.Backend {
	case "native", "serial", "adb":
	default:
		errs = append(errs, fmt.Errorf("unknown input backend %q", c.Input.Backend))
	}
	switch c.Input.PointerPath {
	case input.PathSoft, input.PathHardware, input.PathBoth:
	default:
		errs = append(errs, fmt.Errorf("unknown pointer path %q", c.Input.PointerPath))
	}
	if c.Perception.Color.MinArea > c.Perception.Color.MaxArea {
		errs = append(errs, fmt.Errorf("perception.color.min_area exceeds max_area"))
	}
	if c.Perception.Hough.MinRadius > c.Perception.Hough.MaxRadius {
		errs = append(errs, fmt.Errorf("perception.hough.min_radius exceeds max_radius"))
	}
	if c.Hotkeys.Stop != "" {
		if _, err := hotkeys.ParseKey(c.Hotkeys.Stop); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	return errors.Join(errs...)
}

// SetDefaults registers a default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "aimloop.log")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.compress", true)

	v.SetDefault("server.addr", ":5000")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "aimloop.db")

	v.SetDefault("tracker.aliases_file", "")
	v.SetDefault("tracker.require_same_process", false)
	v.SetDefault("tracker.foreground_delay", 2*time.Second)

	v.SetDefault("capture.method", "screen")
	v.SetDefault("capture.timeout", 500*time.Millisecond)

	lc := loop.DefaultConfig()
	v.SetDefault("loop.mode", string(lc.Mode))
	v.SetDefault("loop.poll_interval", lc.PollInterval)
	v.SetDefault("loop.idle_sleep", lc.IdleSleep)
	v.SetDefault("loop.no_target_sleep", lc.NoTargetSleep)
	v.SetDefault("loop.unfocused_sleep", lc.UnfocusedSleep)
	v.SetDefault("loop.pause_log_interval", lc.PauseLogInterval)
	v.SetDefault("loop.error_sleep", lc.ErrorSleep)
	v.SetDefault("loop.require_focus", lc.RequireFocus)
	v.SetDefault("loop.rehook", lc.Rehook)
	v.SetDefault("loop.stall_timeout", lc.StallTimeout)

	cc := cv.DefaultColorConfig()
	v.SetDefault("perception.color.lower", cc.Lower[:])
	v.SetDefault("perception.color.upper", cc.Upper[:])
	v.SetDefault("perception.color.min_area", cc.MinArea)
	v.SetDefault("perception.color.max_area", cc.MaxArea)

	hc := cv.DefaultHoughConfig()
	v.SetDefault("perception.hough.blur_kernel", hc.BlurKernel)
	v.SetDefault("perception.hough.blur_sigma", hc.BlurSigma)
	v.SetDefault("perception.hough.dp", hc.DP)
	v.SetDefault("perception.hough.min_dist", hc.MinDist)
	v.SetDefault("perception.hough.param1", hc.Param1)
	v.SetDefault("perception.hough.param2", hc.Param2)
	v.SetDefault("perception.hough.min_radius", hc.MinRadius)
	v.SetDefault("perception.hough.max_radius", hc.MaxRadius)
	v.SetDefault("perception.hough.max_circles", hc.MaxCircles)

	tc := cv.DefaultTemplateConfig()
	v.SetDefault("perception.template.dir", tc.Dir)
	v.SetDefault("perception.template.threshold", tc.Threshold)
	v.SetDefault("perception.template.min_scale", tc.MinScale)
	v.SetDefault("perception.template.max_scale", tc.MaxScale)
	v.SetDefault("perception.template.steps", tc.Steps)
	v.SetDefault("perception.template.stride", tc.Stride)

	pc := policy.DefaultConfig()
	v.SetDefault("policy.cooldown", pc.Cooldown)
	v.SetDefault("policy.miss_rate", pc.MissRate)
	v.SetDefault("policy.miss_sleep", pc.MissSleep)
	v.SetDefault("policy.jitter", pc.Jitter)
	v.SetDefault("policy.hold_min", pc.HoldMin)
	v.SetDefault("policy.hold_max", pc.HoldMax)
	v.SetDefault("policy.keys", pc.Keys)
	v.SetDefault("policy.click", pc.Click)
	v.SetDefault("policy.button", string(pc.Button))
	v.SetDefault("policy.select", string(pc.Select))

	ic := input.DefaultConfig()
	v.SetDefault("input.backend", ic.Backend)
	v.SetDefault("input.pointer_path", string(ic.PointerPath))
	v.SetDefault("input.click_hold", ic.ClickHold)
	v.SetDefault("input.key_hold", ic.KeyHold)
	v.SetDefault("input.type_delay", ic.TypeDelay)
	v.SetDefault("input.timeout", ic.Timeout)
	v.SetDefault("input.glide", ic.Glide)
	v.SetDefault("input.glide_min", ic.GlideMin)
	v.SetDefault("input.glide_max", ic.GlideMax)
	v.SetDefault("input.focus_before_action", ic.FocusBeforeAction)
	v.SetDefault("input.focus_settle", ic.FocusSettle)
	v.SetDefault("input.serial.port", "")
	v.SetDefault("input.serial.baud", ic.Serial.Baud)
	v.SetDefault("input.serial.ack", false)
	v.SetDefault("input.adb.path", "")
	v.SetDefault("input.adb.device", "127.0.0.1:16384")
	v.SetDefault("input.adb.title_bar", ic.ADB.TitleBar)

	v.SetDefault("gamepad.enabled", false)
	v.SetDefault("hotkeys.stop", "F8")

	v.SetDefault("preview.max_width", 800)
	v.SetDefault("preview.max_height", 600)
	v.SetDefault("preview.quality", 30)

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.cooldown", 2*time.Second)
	v.SetDefault("notify.timeout", 500*time.Millisecond)
}

// Default returns the configuration with no file or environment applied.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	cfg, _ := Decode(v)
	return cfg
}

// Decode unmarshals and validates the current viper state.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if p, err := homedir.Expand(cfg.Tracker.AliasesFile); err == nil {
		cfg.Tracker.AliasesFile = p
	}
	if p, err := homedir.Expand(cfg.Database.Path); err == nil {
		cfg.Database.Path = p
	}
	if p, err := homedir.Expand(cfg.Perception.Template.Dir); err == nil {
		cfg.Perception.Template.Dir = p
	}
	return cfg, cfg.Validate()
}

// Loader owns the viper instance and the last good configuration.
type Loader struct {
	v   *viper.Viper
	log *logging.Logger

	mu  sync.RWMutex
	cfg Config
}

// Load reads path, or aimloop.yaml from the working directory or ~/.aimloop
// when path is empty. A missing file is not an error.
func Load(path string) (*Loader, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName("aimloop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".aimloop"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, cfg: cfg, log: logging.NewLogger("config")}, nil
}

// Config returns the last configuration that decoded and validated.
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// File returns the config file in use, or "".
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Reload re-decodes the current viper state, keeping the old config when the
// new one is invalid.
func (l *Loader) Reload() (Config, error) {
	cfg, err := Decode(l.v)
	if err != nil {
		return l.Config(), err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Watch hot-reloads the file and calls onChange with each valid new config.
// It does nothing when no file was loaded.
func (l *Loader) Watch(onChange func(Config)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Reload()
		if err != nil {
			l.log.ErrorWithContext("Ignoring invalid config change", err, map[string]interface{}{"file": e.Name})
			return
		}
		l.log.InfoWithContext("Config reloaded", map[string]interface{}{"file": e.Name})
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

package config

import (
	"errors"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	config *Config
	path   string
	once   sync.Once
	mu     sync.Mutex
	v      *viper.Viper
)

// Config represents the service configuration.
type Config struct {
	AppName string
	Host    string
	Port    int

	Export *Export
	Source *Source
	Store  *Store
	Worker *Worker
	Notify *Notify
	Logger *Logger

	Viper *viper.Viper
}

// Export tunes the export pipeline itself.
type Export struct {
	BatchSize  int           // rows pulled per batch; never user-controlled
	OutputDir  string        // artifact root; temp files live under OutputDir/tmp
	JobTimeout time.Duration // hard ceiling for one job's run
}

// Source locates the dataset being exported.
type Source struct {
	DBPath   string
	SeedDemo int // rows to seed into an empty dataset; 0 disables
}

// Store locates the job database.
type Store struct {
	DBPath string
}

// Worker sizes the export worker pool.
type Worker struct {
	MaxWorkers int
	QueueSize  int
}

// Notify configures completion notifications.
type Notify struct {
	WebhookURL string // empty means log-only notifications
	Timeout    time.Duration
}

// Logger configures the process-wide logger.
type Logger struct {
	Level  string
	Format string
	Output string // stdout, stderr, or a file path
}

func init() {
	flag.StringVar(&path, "conf", "", "e.g: bin ./config.yaml")
}

// Init initializes and loads the configuration.
func Init() (cfg *Config, err error) {
	once.Do(func() {
		cfg, err = loadConfiguration()
	})
	return cfg, err
}

// GetConfig returns the configuration, loading it on first use.
func GetConfig() (*Config, error) {
	if config == nil {
		var err error
		config, err = Init()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize config: %w", err)
		}
	}
	return config, nil
}

func loadConfiguration() (*Config, error) {
	flag.Parse()
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	config = cfg
	return cfg, nil
}

// LoadConfig loads the configuration from configPath. An empty path
// falls back to a config file search, and running without any file at
// all is fine: every key has a default. Each load starts from a fresh
// viper so stale state from an earlier file never bleeds through.
func LoadConfig(configPath string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	if configPath != "" {
		vp.SetConfigFile(configPath)
		if err := vp.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		vp.SetConfigName("config")
		vp.AddConfigPath("/etc/go-export-service")
		vp.AddConfigPath("$HOME/.go-export-service")
		vp.AddConfigPath(".")
		if err := vp.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		AppName: vp.GetString("app_name"),
		Host:    vp.GetString("server.host"),
		Port:    vp.GetInt("server.port"),
		Export: &Export{
			BatchSize:  vp.GetInt("export.batch_size"),
			OutputDir:  vp.GetString("export.output_dir"),
			JobTimeout: vp.GetDuration("export.job_timeout"),
		},
		Source: &Source{
			DBPath:   vp.GetString("source.db_path"),
			SeedDemo: vp.GetInt("source.seed_demo"),
		},
		Store: &Store{
			DBPath: vp.GetString("store.db_path"),
		},
		Worker: &Worker{
			MaxWorkers: vp.GetInt("worker.max_workers"),
			QueueSize:  vp.GetInt("worker.queue_size"),
		},
		Notify: &Notify{
			WebhookURL: vp.GetString("notify.webhook_url"),
			Timeout:    vp.GetDuration("notify.timeout"),
		},
		Logger: &Logger{
			Level:  vp.GetString("logger.level"),
			Format: vp.GetString("logger.format"),
			Output: vp.GetString("logger.output"),
		},
		Viper: vp,
	}

	v = vp
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "go-export-service")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("export.batch_size", 500)
	v.SetDefault("export.output_dir", "./exports")
	v.SetDefault("export.job_timeout", "10m")

	v.SetDefault("source.db_path", "./data/records.db")
	v.SetDefault("source.seed_demo", 0)

	v.SetDefault("store.db_path", "./data/jobs.db")

	v.SetDefault("worker.max_workers", 4)
	v.SetDefault("worker.queue_size", 64)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout", "5s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.output", "stderr")
}

// Reload reloads the configuration from the file.
func Reload() error {
	mu.Lock()
	defer mu.Unlock()

	newConfig, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	config = newConfig
	return nil
}

// Watch watches the configuration file and reloads it when it changes.
// It is a no-op until the configuration has been loaded from a file.
func Watch(callback func(*Config)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := Reload(); err != nil {
			logrus.WithError(err).Warn("config reload failed")
			return
		}
		callback(config)
	})
}

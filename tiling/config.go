package tiling

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfig and DefaultConfig
const (
	DefaultTileHeight      = 80
	DefaultTileWidth       = 145
	DefaultBatchSize       = 100
	DefaultEpochs          = 2
	DefaultClassifierPath  = "/v1/classify"
	DefaultClassifierURL   = "http://localhost:8501"
	DefaultStorePath       = "predictions.db"
	DefaultPublishPrefix   = "tilemap"
	DefaultMQTTClientID    = "tilemap"
	defaultClassifierLimit = "30s"
)

// Config represents the full configuration file
type Config struct {
	Tile       TileSize         `yaml:"tile" json:"tile"`
	BatchSize  int              `yaml:"batchSize" json:"batchSize"`
	Fill       uint8            `yaml:"fill" json:"fill"`
	Workers    int              `yaml:"workers" json:"workers"`
	Partition  PartitionConfig  `yaml:"partition" json:"partition"`
	Denoise    DenoiseConfig    `yaml:"denoise" json:"denoise"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	MQTT       MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	Classes    []ClassMeta      `yaml:"classes" json:"classes"`

	// ClassesFile is a YAML list of classes, relative to the config file.
	// Inline classes take precedence.
	ClassesFile string `yaml:"classesFile,omitempty" json:"classesFile,omitempty"`
}

// PartitionConfig selects the partition factor
type PartitionConfig struct {
	Override int          `yaml:"override" json:"override"` // >0 bypasses the steps
	Steps    []FactorStep `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// DenoiseConfig holds the relaxation parameters
type DenoiseConfig struct {
	Epochs         *int     `yaml:"epochs,omitempty" json:"epochs,omitempty"` // nil means DefaultEpochs, 0 disables
	UnaryWeight    *float64 `yaml:"unaryWeight,omitempty" json:"unaryWeight,omitempty"`
	PairwiseWeight *float64 `yaml:"pairwiseWeight,omitempty" json:"pairwiseWeight,omitempty"`
}

// ClassifierConfig points at the remote classification service
type ClassifierConfig struct {
	URL     string `yaml:"url" json:"url"`
	Path    string `yaml:"path" json:"path"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// StoreConfig locates the prediction database
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// MQTTConfig holds MQTT connection settings. An empty broker disables publishing.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	QoS           *int   `yaml:"qos,omitempty" json:"qos,omitempty"`
	Retain        *bool  `yaml:"retain,omitempty" json:"retain,omitempty"`
}

// DefaultConfig returns a configuration with every default filled in
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Tile.Height == 0 {
		c.Tile.Height = DefaultTileHeight
	}
	if c.Tile.Width == 0 {
		c.Tile.Width = DefaultTileWidth
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if c.Denoise.Epochs == nil {
		epochs := DefaultEpochs
		c.Denoise.Epochs = &epochs
	}
	if c.Classifier.URL == "" {
		c.Classifier.URL = DefaultClassifierURL
	}
	if c.Classifier.Path == "" {
		c.Classifier.Path = DefaultClassifierPath
	}
	if c.Classifier.Timeout == "" {
		c.Classifier.Timeout = defaultClassifierLimit
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = DefaultPublishPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultMQTTClientID
	}
	if len(c.Classes) == 0 {
		c.Classes = DefaultClassMetadata()
	}
}

// LoadConfig loads the configuration from a YAML file, fills defaults and
// validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if len(config.Classes) == 0 && config.ClassesFile != "" {
		classesPath := config.ClassesFile
		if !filepath.IsAbs(classesPath) {
			classesPath = filepath.Join(filepath.Dir(path), classesPath)
		}
		classes, err := LoadClassMetadata(classesPath)
		if err != nil {
			return nil, fmt.Errorf("classesFile: %w", err)
		}
		config.Classes = classes
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks every field and names the offending key
func (c *Config) Validate() error {
	if c.Tile.Height <= 0 {
		return fmt.Errorf("tile.height must be positive, got %d", c.Tile.Height)
	}
	if c.Tile.Width <= 0 {
		return fmt.Errorf("tile.width must be positive, got %d", c.Tile.Width)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batchSize must be positive, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.Partition.Override < 0 {
		return fmt.Errorf("partition.override: %w", ErrInvalidFactor)
	}
	if _, err := NewStepFactor(c.Partition.Steps); err != nil {
		return fmt.Errorf("partition.steps: %w", err)
	}
	if c.Denoise.Epochs != nil && *c.Denoise.Epochs < 0 {
		return fmt.Errorf("denoise.epochs must be non-negative, got %d", *c.Denoise.Epochs)
	}
	if err := validateWeight("denoise.unaryWeight", c.Denoise.UnaryWeight); err != nil {
		return err
	}
	if err := validateWeight("denoise.pairwiseWeight", c.Denoise.PairwiseWeight); err != nil {
		return err
	}
	if q := c.MQTT.QoS; q != nil && (*q < 0 || *q > 2) {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *q)
	}
	if _, err := c.ClassifierTimeout(); err != nil {
		return err
	}
	if err := ValidateClassMetadata(c.Classes); err != nil {
		return fmt.Errorf("classes: %w", err)
	}
	return nil
}

func validateWeight(key string, w *float64) error {
	if w == nil {
		return nil
	}
	if math.IsNaN(*w) || math.IsInf(*w, 0) || *w < 0 {
		return fmt.Errorf("%s must be a finite non-negative number, got %v", key, *w)
	}
	return nil
}

// ClassN is the number of classes the classifier may emit
func (c *Config) ClassN() int {
	return len(c.Classes)
}

// ClassifierTimeout parses classifier.timeout
func (c *Config) ClassifierTimeout() (time.Duration, error) {
	if c.Classifier.Timeout == "" {
		return DefaultClassifierTimeout, nil
	}
	d, err := time.ParseDuration(c.Classifier.Timeout)
	if err != nil {
		return 0, fmt.Errorf("classifier.timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("classifier.timeout must be positive, got %s", d)
	}
	return d, nil
}

// PartitionPolicy builds the factor policy from partition.steps. With no
// steps every image gets factor 1.
func (c *Config) PartitionPolicy() (FactorPolicy, error) {
	if len(c.Partition.Steps) == 0 {
		return FixedFactor(1), nil
	}
	return NewStepFactor(c.Partition.Steps)
}

// NewDenoiser builds the configured denoiser
func (c *Config) NewDenoiser() *Denoiser {
	epochs := DefaultEpochs
	if c.Denoise.Epochs != nil {
		epochs = *c.Denoise.Epochs
	}
	d := NewDenoiser(c.ClassN(), epochs)
	if c.Denoise.UnaryWeight != nil {
		d.Unary = *c.Denoise.UnaryWeight
	}
	if c.Denoise.PairwiseWeight != nil {
		d.Pairwise = *c.Denoise.PairwiseWeight
	}
	return d
}

// ApplyEnv overrides MQTT settings from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		c.MQTT.PublishPrefix = v
	}
}

package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/synthread/go-an3155/flash"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Flash   FlashConfig   `yaml:"flash"`
	GPIO    GPIOConfig    `yaml:"gpio"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type SerialConfig struct {
	Port               string        `yaml:"port"`
	BaudRate           int           `yaml:"baud_rate"`
	Timeout            time.Duration `yaml:"timeout"`
	SkipInitialization bool          `yaml:"skip_initialization"`
}

type FlashConfig struct {
	BaseAddress uint32 `yaml:"base_address"`
	PageSize    uint32 `yaml:"page_size"`
	SkipVerify  bool   `yaml:"skip_verify"`
}

// GPIOConfig holds the sysfs GPIO numbers wired to the chip. Zero leaves
// boot mode selection to the user.
type GPIOConfig struct {
	Boot0 int `yaml:"boot0"`
	Boot1 int `yaml:"boot1"`
	Power int `yaml:"power"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	// Textfile is written in the prometheus text format after each run
	Textfile string `yaml:"textfile"`
}

// Load reads the config file at path on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     flash.DefaultTTY,
			BaudRate: flash.DefaultBaud,
			Timeout:  flash.DefaultTimeout,
		},
		Flash: FlashConfig{
			BaseAddress: flash.DefaultBaseAddress,
			PageSize:    flash.DefaultPageSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// FlashConfig converts the file config into the microcontroller config
func (c *Config) FlashConfig() *flash.Config {
	return &flash.Config{
		TTY:                c.Serial.Port,
		BootloaderBaud:     c.Serial.BaudRate,
		Timeout:            c.Serial.Timeout,
		SkipInitialization: c.Serial.SkipInitialization,
		BaseAddress:        c.Flash.BaseAddress,
		PageSize:           c.Flash.PageSize,
		SkipVerify:         c.Flash.SkipVerify,
		Boot0GPIO:          c.GPIO.Boot0,
		Boot1GPIO:          c.GPIO.Boot1,
		PowerGPIO:          c.GPIO.Power,
	}
}

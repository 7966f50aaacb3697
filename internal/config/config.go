// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/grid-x/serial"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config defines the global configuration structure
type Config struct {
	Transceiver TransceiverConfig `mapstructure:"transceiver" yaml:"transceiver"`
	Sampler     SamplerConfig     `mapstructure:"sampler" yaml:"sampler"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"` // debug, info, warn, error
	File  string `mapstructure:"file" yaml:"file"`   // Log file path
}

// TransceiverConfig describes the serial port and the RS-485 transceiver
// wired to it.
type TransceiverConfig struct {
	Device       string `mapstructure:"device" yaml:"device"`
	BaudRate     int    `mapstructure:"baud_rate" yaml:"baud_rate"`
	RxBufferSize int    `mapstructure:"rx_buffer" yaml:"rx_buffer"`

	// Driver enable and receiver enable lines on GPIOChip.
	GPIOChip string `mapstructure:"gpio_chip" yaml:"gpio_chip"`
	PinDE    int    `mapstructure:"pin_de" yaml:"pin_de"`
	PinRE    int    `mapstructure:"pin_re" yaml:"pin_re"`

	// UART pins, informational only
	PinTX int `mapstructure:"pin_tx" yaml:"pin_tx"`
	PinRX int `mapstructure:"pin_rx" yaml:"pin_rx"`

	// Leave DE and RE released between transactions
	ReleaseAfterTransaction bool `mapstructure:"release_after_transaction" yaml:"release_after_transaction"`

	RS485 RS485Config `mapstructure:"rs485" yaml:"rs485"`
}

// RS485Config is passed to the kernel RS-485 driver, for UARTs that toggle
// RTS themselves. It is independent of the GPIO DE/RE lines.
type RS485Config struct {
	Enabled            bool          `mapstructure:"enabled" yaml:"enabled"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send" yaml:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send" yaml:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send" yaml:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send" yaml:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx" yaml:"rx_during_tx"`
}

// SerialConfig converts c to the serial package form.
func (c RS485Config) SerialConfig() serial.RS485Config {
	return serial.RS485Config{
		Enabled:            c.Enabled,
		DelayRtsBeforeSend: c.DelayRtsBeforeSend,
		DelayRtsAfterSend:  c.DelayRtsAfterSend,
		RtsHighDuringSend:  c.RtsHighDuringSend,
		RtsHighAfterSend:   c.RtsHighAfterSend,
		RxDuringTx:         c.RxDuringTx,
	}
}

// SamplerConfig lists the registers polled by the daemon.
type SamplerConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Points   []PointConfig `mapstructure:"points" yaml:"points"`
}

// PointConfig is a single register read.
type PointConfig struct {
	Name     string  `mapstructure:"name" yaml:"name"`
	UnitID   uint8   `mapstructure:"unit_id" yaml:"unit_id"`
	Function uint8   `mapstructure:"function" yaml:"function"` // 3 or 4
	Address  uint16  `mapstructure:"address" yaml:"address"`
	Scale    float64 `mapstructure:"scale" yaml:"scale"` // reading = raw / scale
	Slot     int     `mapstructure:"slot" yaml:"slot"`   // store slot
}

// StoreConfig defines where the latest readings are kept
type StoreConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory", "file", "mmap", "sql"
	Path string `mapstructure:"path" yaml:"path"` // File path or DSN
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"device":    "transceiver.device",
	"baud_rate": "transceiver.baud_rate",
	"interval":  "sampler.interval",
	"log_level": "log.level",
	"log_file":  "log.file",
}

// LoadConfig loads configuration from file
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigWithFlags(configFile, nil)
}

// LoadConfigWithFlags loads configuration from file, letting any flag of fs
// named in flagKeys that was set on the command line take precedence. When
// no file is given and none is found in the search path, defaults and flags
// are used alone.
func LoadConfigWithFlags(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/rs485master/")
		v.AddConfigPath("$HOME/.rs485master")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("transceiver.device", "/dev/ttyS1")
	v.SetDefault("transceiver.baud_rate", 9600)
	v.SetDefault("transceiver.rx_buffer", 256)
	v.SetDefault("transceiver.gpio_chip", "gpiochip0")
	v.SetDefault("sampler.interval", time.Second)
	v.SetDefault("store.type", "memory")

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Without a config file, flags and defaults may still be enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fixups
	fixupSampler(&config.Sampler)
	config.Store.Type = strings.ToLower(config.Store.Type)
	config.Log.Level = strings.ToLower(config.Log.Level)

	return &config, nil
}

func fixupSampler(s *SamplerConfig) {
	for i := range s.Points {
		p := &s.Points[i]
		if p.Scale == 0 {
			p.Scale = 1
		}
		if p.Function == 0 {
			p.Function = 3
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("unit%d/fc%d/%d", p.UnitID, p.Function, p.Address)
		}
	}
}

// Dump renders the effective configuration as YAML.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}

package config

import (
	"OnnxDepth/depth"
	"OnnxDepth/imageio"
	"OnnxDepth/logger"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	HTTPPort      int    `yaml:"HTTPPort"`
	MonitorPort   int    `yaml:"MonitorPort"`
	MaxUploadMB   int    `yaml:"maxUploadMB"`
	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerPort int    `yaml:"RegServerPort"`
	RegServerHost string `yaml:"RegServerHost"`
}

type Config struct {
	ModelType       string       `yaml:"modelType"`
	ModelDir        string       `yaml:"modelDir"`
	OrtLib          string       `yaml:"ortLib"`
	Threads         int          `yaml:"threads"`
	DeviceID        int          `yaml:"deviceId"`
	UseCUDA         bool         `yaml:"useCuda"`
	UseTensorRT     bool         `yaml:"useTensorRT"`
	UseDirectML     bool         `yaml:"useDirectML"`
	UseCoreML       bool         `yaml:"useCoreML"`
	StrictProviders bool         `yaml:"strictProviders"`
	ResizeToInput   bool         `yaml:"resizeToInput"`
	Codec           string       `yaml:"codec"`
	LogMode         string       `yaml:"logMode"`
	Server          ServerConfig `yaml:"server"`
}

func Default() Config {
	return Config{
		ModelType:     "static",
		Threads:       4,
		ResizeToInput: true,
		Codec:         imageio.CodecOpenCV,
		LogMode:       logger.ModeProduction,
		Server: ServerConfig{
			HTTPPort:      8080,
			MonitorPort:   9090,
			MaxUploadMB:   20,
			RegServerHost: "127.0.0.1",
			RegServerPort: 8000,
		},
	}
}

// Load 读取 yaml 配置；文件不存在时返回默认配置，未写的字段保持默认值
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	configData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(configData, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}

func (c Config) Validate() error {
	var errs []error
	if _, err := depth.VariantFor(c.ModelType); err != nil {
		errs = append(errs, err)
	}
	if c.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads must be >= 1, got %d", c.Threads))
	}
	if c.DeviceID < 0 {
		errs = append(errs, fmt.Errorf("deviceId must be >= 0, got %d", c.DeviceID))
	}
	switch c.Codec {
	case imageio.CodecOpenCV, imageio.CodecImaging:
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q (opencv or imaging)", c.Codec))
	}
	switch c.LogMode {
	case "", logger.ModeProduction, logger.ModeDevelopment:
	default:
		errs = append(errs, fmt.Errorf("unknown logMode %q", c.LogMode))
	}
	if !validPort(c.Server.HTTPPort) {
		errs = append(errs, fmt.Errorf("invalid HTTPPort %d", c.Server.HTTPPort))
	}
	if !validPort(c.Server.MonitorPort) {
		errs = append(errs, fmt.Errorf("invalid MonitorPort %d", c.Server.MonitorPort))
	}
	if c.Server.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("maxUploadMB must be >= 1, got %d", c.Server.MaxUploadMB))
	}
	if c.Server.UseRegServer && !validPort(c.Server.RegServerPort) {
		errs = append(errs, fmt.Errorf("invalid RegServerPort %d", c.Server.RegServerPort))
	}
	return errors.Join(errs...)
}

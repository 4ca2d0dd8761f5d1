package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	StoreConfig struct {
		Path string `yaml:"path" sanitize:"path_clean,assure_dir_exists_for_file" validate:"required,filepath"`
	}

	RenderConfig struct {
		// how often navigation watcher checks location when no event has been observed
		PollInterval time.Duration `yaml:"poll_interval" validate:"min=10ms"`
	}

	MessagingConfig struct {
		// delay between agent injection and message retry
		SettleDelay time.Duration `yaml:"settle_delay" validate:"min=0s"`
	}

	PanelConfig struct {
		PreviewDelay time.Duration `yaml:"preview_delay" validate:"min=0s"`
	}

	ProxyConfig struct {
		Listen       string       `yaml:"listen" validate:"required,hostname_port"`
		Upstream     string       `yaml:"upstream" validate:"omitempty,url"`
		UpstreamAuth SecretString `yaml:"upstream_auth,omitempty"`
		// documents larger than that are passed through untouched
		MaxDocumentSize int64 `yaml:"max_document_size" validate:"gt=0"`
	}

	Config struct {
		Version   int             `yaml:"version" validate:"eq=1"`
		Store     StoreConfig     `yaml:"store"`
		Render    RenderConfig    `yaml:"render"`
		Messaging MessagingConfig `yaml:"messaging"`
		Panel     PanelConfig     `yaml:"panel"`
		Proxy     ProxyConfig     `yaml:"proxy"`
		Logging   LoggingConfig   `yaml:"logging"`
		Reporting ReporterConfig  `yaml:"reporting"`
	}
)

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}

package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"text/template"
	"time"

	yaml "gopkg.in/yaml.v3"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/rupor-github/gencfg"
	"golang.org/x/text/language"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	GeminiConfig struct {
		// when empty GEMINI_API_KEY environment variable is used
		APIKey                SecretString  `yaml:"api_key"`
		ChatModel             string        `yaml:"chat_model" validate:"required"`
		ImageModel            string        `yaml:"image_model" validate:"required"`
		SpeechModel           string        `yaml:"speech_model" validate:"required"`
		Voice                 string        `yaml:"voice" validate:"required"`
		AspectRatio           string        `yaml:"aspect_ratio" validate:"oneof=1:1 3:4 4:3 9:16 16:9"`
		SystemInstructionPath string        `yaml:"system_instruction_path,omitempty" sanitize:"assure_file_access"`
		RequestInterval       time.Duration `yaml:"request_interval" validate:"gte=0s"`
		ReplyTimeout          time.Duration `yaml:"reply_timeout" validate:"gte=0s"`
		ImageTimeout          time.Duration `yaml:"image_timeout" validate:"gte=0s"`
		SpeechTimeout         time.Duration `yaml:"speech_timeout" validate:"gte=0s"`
		ImageCacheTTL         time.Duration `yaml:"image_cache_ttl" validate:"gte=0s"`
	}

	SessionConfig struct {
		OpeningMessage string `yaml:"opening_message" validate:"required"`
		ApologyMessage string `yaml:"apology_message" validate:"required"`
		MaxPages       int    `yaml:"max_pages" validate:"gte=1,lte=10000"`
	}

	SQLiteConfig struct {
		Path string `yaml:"path" validate:"required"`
	}

	PostgresConfig struct {
		URL SecretString `yaml:"url,omitempty"`
	}

	StoreConfig struct {
		Driver   string         `yaml:"driver" validate:"required,oneof=sqlite postgres"`
		SQLite   SQLiteConfig   `yaml:"sqlite"`
		Postgres PostgresConfig `yaml:"postgres"`
	}

	ShareConfig struct {
		Listen       string        `yaml:"listen" validate:"required,hostname_port"`
		BaseURL      string        `yaml:"base_url" validate:"required,url"`
		MaxBodyBytes int64         `yaml:"max_body_bytes" validate:"min=1024"`
		ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0s"`
	}

	ExportImagesConfig struct {
		Width       int    `yaml:"width" validate:"min=256,max=4096"`
		JPEGQuality int    `yaml:"jpeg_quality_level" validate:"min=40,max=100"`
		Format      string `yaml:"format" validate:"oneof=keep jpeg png"`
	}

	ExportConfig struct {
		Language              string             `yaml:"language" validate:"required"`
		Author                string             `yaml:"author"`
		OutputNameTemplate    string             `yaml:"output_name_template"`
		FileNameTransliterate bool               `yaml:"file_name_transliterate"`
		FixZip                bool               `yaml:"fix_zip"`
		StylesheetPath        string             `yaml:"stylesheet_path,omitempty" sanitize:"assure_file_access"`
		Images                ExportImagesConfig `yaml:"images"`
	}

	NarrationConfig struct {
		Workers  int `yaml:"workers" validate:"min=1,max=16"`
		MaxChars int `yaml:"max_chars" validate:"min=100"`
	}

	Config struct {
		Version   int             `yaml:"version" validate:"eq=1"`
		Gemini    GeminiConfig    `yaml:"gemini"`
		Session   SessionConfig   `yaml:"session"`
		Store     StoreConfig     `yaml:"store"`
		Share     ShareConfig     `yaml:"share"`
		Export    ExportConfig    `yaml:"export"`
		Narration NarrationConfig `yaml:"narration"`
		Logging   LoggingConfig   `yaml:"logging"`
		Reporting ReporterConfig  `yaml:"reporting"`
	}
)

const (
	// NOTE: must match yaml field name above
	OutputNameTemplateFieldName TemplateFieldName = "output_name_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(OutputNameTemplateFieldName)),
)

// check performs validation which could not be expressed with tags.
func (cfg *Config) check() error {
	if cfg.Store.Driver == "postgres" && len(cfg.Store.Postgres.URL) == 0 {
		return errors.New("store.postgres.url is required for postgres driver")
	}
	if _, err := language.Parse(cfg.Export.Language); err != nil {
		return fmt.Errorf("export.language is not a valid language tag: %w", err)
	}
	if len(cfg.Export.OutputNameTemplate) > 0 {
		if _, err := template.New(string(OutputNameTemplateFieldName)).Funcs(sprig.FuncMap()).Parse(cfg.Export.OutputNameTemplate); err != nil {
			return fmt.Errorf("export.output_name_template is not a valid template: %w", err)
		}
	}
	return nil
}

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		// sanitize and validate what has been loaded
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, err
		}
		if err := gencfg.Validate(cfg); err != nil {
			return nil, err
		}
		if err := cfg.check(); err != nil {
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

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
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
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

// Dump returns actual configuration, secrets are masked.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %v", err)
	}
	return data, nil
}

package rosebuild

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config struct
type Config struct {
	Root          string   `yaml:"root"`
	Boost         string   `yaml:"boost"`
	JavaHome      string   `yaml:"java_home"`
	Repository    string   `yaml:"repository"`
	GitBaseURL    string   `yaml:"git_base_url"`
	Package       string   `yaml:"package"`
	ArchiveMarker string   `yaml:"archive_marker"`
	ArchiveIndex  string   `yaml:"archive_index"`
	MakeCommand   string   `yaml:"make_command"`
	ConfigureArgs []string `yaml:"configure_args"`
	StrictBuild   bool     `yaml:"strict_build"`
	Debug         bool     `yaml:"debug"`

	// S3-compatible mirror, used when ArchiveIndex is an s3:// URL.
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3Region          string `yaml:"s3_region"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
}

// configPath returns $ROSEBUILD_CONFIG or <UserConfigDir>/rosebuild/config.yaml.
func configPath() string {
	if p := os.Getenv("ROSEBUILD_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "rosebuild", "config.yaml")
}

// Load the config file and apply defaults. A missing file is not an error.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	mergeEnvOverrides(cfg, os.Environ())
	applyDefaults(cfg)
	return cfg, nil
}

// Merge ROSEBUILD_* env overrides
func mergeEnvOverrides(cfg *Config, environ []string) {
	for _, env := range environ {
		if !strings.HasPrefix(env, "ROSEBUILD_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		val := parts[1]
		if val == "" {
			continue
		}
		switch parts[0] {
		case "ROSEBUILD_ROOT":
			cfg.Root = val
		case "ROSEBUILD_BOOST":
			cfg.Boost = val
		case "ROSEBUILD_REPOSITORY":
			cfg.Repository = val
		case "ROSEBUILD_GIT_BASE_URL":
			cfg.GitBaseURL = val
		case "ROSEBUILD_PACKAGE":
			cfg.Package = val
		case "ROSEBUILD_ARCHIVE_MARKER":
			cfg.ArchiveMarker = val
		case "ROSEBUILD_INDEX":
			cfg.ArchiveIndex = val
		case "ROSEBUILD_MAKE":
			cfg.MakeCommand = val
		case "ROSEBUILD_STRICT_BUILD":
			cfg.StrictBuild = val == "1"
		case "ROSEBUILD_DEBUG":
			cfg.Debug = val == "1"
		case "ROSEBUILD_S3_ENDPOINT":
			cfg.S3Endpoint = val
		case "ROSEBUILD_S3_ACCESS_KEY_ID":
			cfg.S3AccessKeyID = val
		case "ROSEBUILD_S3_SECRET_ACCESS_KEY":
			cfg.S3SecretAccessKey = val
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Root = filepath.Join(home, "rosebuild")
		} else {
			cfg.Root = filepath.Join(os.TempDir(), "rosebuild")
		}
	}
	if cfg.Boost == "" {
		cfg.Boost = defaultBoostDir
	}
	if cfg.Repository == "" {
		cfg.Repository = defaultRepository
	}
	if cfg.GitBaseURL == "" {
		cfg.GitBaseURL = defaultGitBaseURL
	}
	cfg.GitBaseURL = strings.TrimRight(cfg.GitBaseURL, "/")
	if cfg.Package == "" {
		cfg.Package = defaultPackage
	}
	if cfg.ArchiveMarker == "" {
		cfg.ArchiveMarker = defaultArchiveMarker
	}
	if cfg.ArchiveIndex == "" {
		cfg.ArchiveIndex = defaultArchiveIndex
	}
	if cfg.MakeCommand == "" {
		cfg.MakeCommand = defaultMakeCommand
	}
	if cfg.S3Region == "" {
		cfg.S3Region = defaultS3Region
	}
}

// repositoryURL maps a repository name onto a clone URL. Names that already
// look like URLs or paths are used verbatim.
func (c *Config) repositoryURL(name string) string {
	if filepath.IsAbs(name) || strings.Contains(name, "://") || strings.HasPrefix(name, "git@") || strings.HasSuffix(name, ".git") {
		return name
	}
	return c.GitBaseURL + "/" + name + ".git"
}

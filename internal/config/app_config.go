package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/temirov/ctxsync/internal/utils"
)

// LoadOptions controls how application configuration is discovered.
type LoadOptions struct {
	WorkingDirectory string
	ExplicitFilePath string
}

// ApplicationConfiguration holds command defaults loaded from configuration files.
type ApplicationConfiguration struct {
	Paths    PathConfiguration     `mapstructure:"paths"`
	Document DocumentConfiguration `mapstructure:"document"`
	Watch    WatchConfiguration    `mapstructure:"watch"`
}

// PathConfiguration configures inclusion and exclusion rules for path traversal.
type PathConfiguration struct {
	Exclude            []string `mapstructure:"exclude"`
	UseGitignore       *bool    `mapstructure:"use_gitignore"`
	UseIgnoreFile      *bool    `mapstructure:"use_ignore"`
	UseDefaultExcludes *bool    `mapstructure:"use_default_excludes"`
	IncludeGit         *bool    `mapstructure:"include_git"`
}

// DocumentConfiguration configures the generated document.
type DocumentConfiguration struct {
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
	Copy   *bool  `mapstructure:"copy"`
}

// WatchConfiguration configures change monitoring.
type WatchConfiguration struct {
	Mode     string        `mapstructure:"mode"`
	Debounce time.Duration `mapstructure:"debounce"`
	Tick     time.Duration `mapstructure:"tick"`
}

// LoadApplicationConfiguration loads configuration from global and local files.
// Local values override global ones field by field.
func LoadApplicationConfiguration(options LoadOptions) (ApplicationConfiguration, error) {
	workingDirectory := options.WorkingDirectory
	if workingDirectory == "" {
		currentDirectory, err := os.Getwd()
		if err != nil {
			return ApplicationConfiguration{}, fmt.Errorf("determine working directory: %w", err)
		}
		workingDirectory = currentDirectory
	}

	var merged ApplicationConfiguration

	if globalPath, err := ConfigurationPath(InitTargetGlobal, ""); err == nil {
		globalConfig, loadErr := loadConfigurationFromPath(globalPath)
		if loadErr != nil {
			return ApplicationConfiguration{}, loadErr
		}
		merged = merged.Merge(globalConfig)
	}

	localPath := resolveLocalConfigPath(workingDirectory, options.ExplicitFilePath)
	localConfig, loadErr := loadConfigurationFromPath(localPath)
	if loadErr != nil {
		return ApplicationConfiguration{}, loadErr
	}
	merged = merged.Merge(localConfig)
	merged.Paths.Exclude = utils.DeduplicatePatterns(merged.Paths.Exclude)

	return merged, nil
}

func resolveLocalConfigPath(workingDirectory, explicitPath string) string {
	if explicitPath == "" {
		localPath, _ := ConfigurationPath(InitTargetLocal, workingDirectory)
		return localPath
	}
	if filepath.IsAbs(explicitPath) {
		return explicitPath
	}
	return filepath.Join(workingDirectory, explicitPath)
}

func loadConfigurationFromPath(path string) (ApplicationConfiguration, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return ApplicationConfiguration{}, nil
		}
		return ApplicationConfiguration{}, fmt.Errorf("stat configuration %s: %w", path, statErr)
	}
	if info.IsDir() {
		return ApplicationConfiguration{}, fmt.Errorf("configuration path %s is a directory", path)
	}

	reader := viper.New()
	reader.SetConfigFile(path)
	reader.SetConfigType("yaml")
	if readErr := reader.ReadInConfig(); readErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("read configuration from %s: %w", path, readErr)
	}
	var configuration ApplicationConfiguration
	if decodeErr := reader.Unmarshal(&configuration); decodeErr != nil {
		return ApplicationConfiguration{}, fmt.Errorf("decode configuration from %s: %w", path, decodeErr)
	}
	return configuration, nil
}

// Merge overlays override onto the receiver returning the combined configuration.
func (configuration ApplicationConfiguration) Merge(override ApplicationConfiguration) ApplicationConfiguration {
	result := configuration
	result.Paths = result.Paths.merge(override.Paths)
	result.Document = result.Document.merge(override.Document)
	result.Watch = result.Watch.merge(override.Watch)
	return result
}

// IgnoreOptions converts the path configuration into scanner ignore options.
// Unset switches keep their defaults.
func (configuration PathConfiguration) IgnoreOptions() IgnoreOptions {
	options := DefaultIgnoreOptions()
	if configuration.UseGitignore != nil {
		options.UseGitignore = *configuration.UseGitignore
	}
	if configuration.UseIgnoreFile != nil {
		options.UseIgnoreFile = *configuration.UseIgnoreFile
	}
	if configuration.UseDefaultExcludes != nil {
		options.UseDefaultExcludes = *configuration.UseDefaultExcludes
	}
	if configuration.IncludeGit != nil {
		options.IncludeGit = *configuration.IncludeGit
	}
	return options
}

func (configuration PathConfiguration) merge(override PathConfiguration) PathConfiguration {
	result := configuration
	if len(override.Exclude) > 0 {
		result.Exclude = append([]string{}, utils.DeduplicatePatterns(override.Exclude)...)
	}
	if override.UseGitignore != nil {
		result.UseGitignore = cloneBool(override.UseGitignore)
	}
	if override.UseIgnoreFile != nil {
		result.UseIgnoreFile = cloneBool(override.UseIgnoreFile)
	}
	if override.UseDefaultExcludes != nil {
		result.UseDefaultExcludes = cloneBool(override.UseDefaultExcludes)
	}
	if override.IncludeGit != nil {
		result.IncludeGit = cloneBool(override.IncludeGit)
	}
	return result
}

func (configuration DocumentConfiguration) merge(override DocumentConfiguration) DocumentConfiguration {
	result := configuration
	if override.Format != "" {
		result.Format = override.Format
	}
	if override.Output != "" {
		result.Output = override.Output
	}
	if override.Copy != nil {
		result.Copy = cloneBool(override.Copy)
	}
	return result
}

func (configuration WatchConfiguration) merge(override WatchConfiguration) WatchConfiguration {
	result := configuration
	if override.Mode != "" {
		result.Mode = override.Mode
	}
	if override.Debounce > 0 {
		result.Debounce = override.Debounce
	}
	if override.Tick > 0 {
		result.Tick = override.Tick
	}
	return result
}

func cloneBool(value *bool) *bool {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/temirov/ctxsync/internal/utils"
)

// InitTarget identifies where configuration should be initialized.
type InitTarget string

const (
	// InitTargetLocal writes configuration into the working directory.
	InitTargetLocal InitTarget = "local"
	// InitTargetGlobal writes configuration into the global configuration directory.
	InitTargetGlobal InitTarget = "global"

	defaultConfigurationTemplate = `# ctxsync configuration
paths:
  # extra .gitignore-style patterns excluded from every scan
  exclude: []
  use_gitignore: true
  use_ignore: true
  use_default_excludes: true
  include_git: false
document:
  # markdown or asciidoc
  format: markdown
  # defaults to project_structure.<md|adoc> inside the scanned directory
  output: ""
  copy: false
watch:
  # directory watches the whole tree, files watches only the selected files
  mode: directory
  debounce: 750ms
  tick: 100ms
`

	configurationFileMode      = 0o600
	configurationDirectoryMode = 0o755
)

// InitOptions controls how configuration initialization behaves.
type InitOptions struct {
	Target           InitTarget
	Force            bool
	WorkingDirectory string
}

// ConfigurationPath returns the configuration file used for target. Local
// paths live in workingDirectory, or the current directory when it is empty.
func ConfigurationPath(target InitTarget, workingDirectory string) (string, error) {
	switch target {
	case InitTargetLocal, "":
		if workingDirectory == "" {
			current, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("determine working directory for configuration: %w", err)
			}
			workingDirectory = current
		}
		return filepath.Join(workingDirectory, utils.ConfigFileName), nil
	case InitTargetGlobal:
		homeDirectory, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory for configuration: %w", err)
		}
		return filepath.Join(homeDirectory, utils.GlobalConfigDirectoryName, utils.ConfigFileName), nil
	default:
		return "", fmt.Errorf("unsupported init target %q", target)
	}
}

// InitializeConfiguration writes the commented default configuration for the
// requested target and returns the written path. An existing file is only
// replaced when Force is set.
func InitializeConfiguration(options InitOptions) (string, error) {
	destinationPath, pathError := ConfigurationPath(options.Target, options.WorkingDirectory)
	if pathError != nil {
		return "", pathError
	}
	if err := os.MkdirAll(filepath.Dir(destinationPath), configurationDirectoryMode); err != nil {
		return "", fmt.Errorf("create configuration directory %s: %w", filepath.Dir(destinationPath), err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if options.Force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	// #nosec G304
	fileHandle, openError := os.OpenFile(destinationPath, flags, configurationFileMode)
	if errors.Is(openError, fs.ErrExist) {
		return "", fmt.Errorf("configuration file already exists at %s", destinationPath)
	}
	if openError != nil {
		return "", fmt.Errorf("write configuration to %s: %w", destinationPath, openError)
	}
	if _, writeError := fileHandle.WriteString(defaultConfigurationTemplate); writeError != nil {
		fileHandle.Close()
		return "", fmt.Errorf("write configuration to %s: %w", destinationPath, writeError)
	}
	if closeError := fileHandle.Close(); closeError != nil {
		return "", fmt.Errorf("write configuration to %s: %w", destinationPath, closeError)
	}
	return destinationPath, nil
}

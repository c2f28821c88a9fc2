// Package cli provides the command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ctxsync/internal/config"
	"github.com/temirov/ctxsync/internal/document"
	"github.com/temirov/ctxsync/internal/monitor"
	"github.com/temirov/ctxsync/internal/output"
	"github.com/temirov/ctxsync/internal/scanner"
	"github.com/temirov/ctxsync/internal/services/clipboard"
	"github.com/temirov/ctxsync/internal/session"
	"github.com/temirov/ctxsync/internal/types"
	"github.com/temirov/ctxsync/internal/utils"
)

const (
	exclusionFlagName      = "exclude"
	exclusionFlagShorthand = "e"
	noGitignoreFlagName    = "no-gitignore"
	noIgnoreFlagName       = "no-ignore"
	noDefaultExcludesName  = "no-default-excludes"
	includeGitFlagName     = "git"
	formatFlagName         = "format"
	outputFlagName         = "output"
	copyFlagName           = "copy"
	modeFlagName           = "mode"
	debounceFlagName       = "debounce"
	globalFlagName         = "global"
	forceFlagName          = "force"
	versionFlagName        = "version"
	verboseFlagName        = "verbose"
	configFlagName         = "config"
	versionTemplate        = "ctxsync version: %s\n"
	defaultPath            = "."
	rootUse                = "ctxsync"
	rootShortDescription   = "ctxsync command line interface"
	rootLongDescription    = `ctxsync turns a project directory into one context document.
It renders the directory tree and the content of selected files as Markdown or AsciiDoc,
and can keep the document in sync while the files change.
Defaults are read from .ctxsync.yaml in the working directory and ~/.ctxsync/.`
	versionFlagDescription   = "display application version"
	verboseFlagDescription   = "enable debug logging"
	configFlagDescription    = "path to a configuration file"
	treeUse                  = "tree [dir]"
	generateUse              = "generate [dir] [paths...]"
	watchUse                 = "watch [dir] [paths...]"
	initUse                  = "init"
	treeAlias                = "t"
	generateAlias            = "g"
	watchAlias               = "w"
	treeShortDescription     = "display directory tree (" + treeAlias + ")"
	generateShortDescription = "write the context document (" + generateAlias + ")"
	watchShortDescription    = "keep the context document in sync (" + watchAlias + ")"
	initShortDescription     = "write a default configuration file"

	treeLongDescription = `List the directories and files of a project after ignore rules are applied.
Use --format to select raw or json output.`
	treeUsageExample = `  # Render the tree as JSON
  ctxsync tree --format json ./project

  # Exclude the vendor directory
  ctxsync tree -e vendor .`

	generateLongDescription = `Select paths inside dir and write the context document.
Paths are files or directories relative to dir; without paths every file is selected.
Use --format to choose markdown or asciidoc and --output to choose the destination.`
	generateUsageExample = `  # Document the whole project as project_structure.md
  ctxsync generate .

  # Document two directories as AsciiDoc and copy the result
  ctxsync generate --format asciidoc --copy . cmd internal`

	watchLongDescription = `Generate the context document, then update it whenever a selected file changes.
Structural changes trigger a rescan and a full regeneration. Stop with Ctrl+C.`
	watchUsageExample = `  # Keep the document in sync for the src directory only
  ctxsync watch --mode files . src`

	initLongDescription = `Write a commented .ctxsync.yaml into the working directory, or into ~/.ctxsync with --global.`

	exclusionFlagDescription        = "exclude path pattern"
	disableGitignoreFlagDescription = "do not use .gitignore and VCS excludes"
	disableIgnoreFlagDescription    = "do not use .ignore"
	disableDefaultsFlagDescription  = "do not apply the built-in exclusion list"
	includeGitFlagDescription       = "include git directory"
	treeFormatFlagDescription       = "output format (raw or json)"
	documentFormatFlagDescription   = "document format (markdown or asciidoc)"
	outputFlagDescription           = "document destination"
	copyFlagDescription             = "copy the document to the clipboard"
	modeFlagDescription             = "watch mode (directory or files)"
	debounceFlagDescription         = "quiet period before a change is applied"
	globalFlagDescription           = "write the global configuration"
	forceFlagDescription            = "overwrite an existing configuration file"

	invalidFormatMessage          = "invalid format value '%s'"
	invalidModeMessage            = "invalid watch mode '%s'"
	configurationWrittenFormat    = "Configuration written to %s\n"
	watchingFormat                = "Watching %s (%s mode), press Ctrl+C to stop\n"
	errorConfigurationFormat      = "load configuration: %w"
	errorLoggerFormat             = "initialize logger: %w"
	errorCopyFormat               = "copy document to clipboard: %w"
	errorWorkingDirectoryFormat   = "unable to determine working directory: %w"
	errorAbsoluteOutputPathFormat = "abs failed for '%s': %w"

	infoDocumentCopied  = "document copied to clipboard"
	infoDocumentUpdated = "document regenerated"
	infoSectionPatched  = "section updated"
	warningEventFailed  = "background operation failed"
	debugChangeDetected = "change detected"
	debugScanCompleted  = "scan completed"
)

// applicationDependencies holds collaborators replaced in tests.
type applicationDependencies struct {
	newCopier func() clipboard.Copier
}

func defaultDependencies() applicationDependencies {
	return applicationDependencies{
		newCopier: func() clipboard.Copier { return clipboard.NewService() },
	}
}

// application carries state shared by every subcommand once the root
// command's pre-run has loaded configuration and built the logger.
type application struct {
	dependencies      applicationDependencies
	verbose           bool
	configurationPath string
	logger            *zap.Logger
	configuration     config.ApplicationConfiguration
}

// Execute runs the ctxsync application.
func Execute() error {
	rootCommand := createRootCommand(defaultDependencies())
	rootCommand.SetArgs(normalizeOptionalBooleanArguments(os.Args[1:], copyFlagName))
	return rootCommand.ExecuteContext(context.Background())
}

// createRootCommand builds the root Cobra command.
func createRootCommand(dependencies applicationDependencies) *cobra.Command {
	state := &application{dependencies: dependencies, logger: zap.NewNop()}
	var showVersion bool

	rootCommand := &cobra.Command{
		Use:          rootUse,
		Short:        rootShortDescription,
		Long:         rootLongDescription,
		SilenceUsage: true,
		RunE: func(command *cobra.Command, arguments []string) error {
			if showVersion {
				_, printError := fmt.Fprintf(command.OutOrStdout(), versionTemplate, utils.GetApplicationVersion())
				return printError
			}
			return command.Help()
		},
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return state.prepare()
		},
		PersistentPostRun: func(command *cobra.Command, arguments []string) {
			_ = state.logger.Sync()
		},
	}
	rootCommand.Flags().BoolVar(&showVersion, versionFlagName, false, versionFlagDescription)
	rootCommand.PersistentFlags().BoolVar(&state.verbose, verboseFlagName, false, verboseFlagDescription)
	rootCommand.PersistentFlags().StringVar(&state.configurationPath, configFlagName, "", configFlagDescription)
	rootCommand.AddCommand(
		createTreeCommand(state),
		createGenerateCommand(state),
		createWatchCommand(state),
		createInitCommand(),
	)
	rootCommand.InitDefaultHelpCmd()
	rootCommand.InitDefaultCompletionCmd()
	return rootCommand
}

// prepare builds the logger and loads configuration.
func (state *application) prepare() error {
	logger, loggerError := utils.NewApplicationLogger(state.verbose)
	if loggerError != nil {
		return fmt.Errorf(errorLoggerFormat, loggerError)
	}
	state.logger = logger
	configuration, configurationError := config.LoadApplicationConfiguration(config.LoadOptions{ExplicitFilePath: state.configurationPath})
	if configurationError != nil {
		return fmt.Errorf(errorConfigurationFormat, configurationError)
	}
	state.configuration = configuration
	return nil
}

// pathOptions stores configuration for path-related flags.
type pathOptions struct {
	exclusionPatterns []string
	disableGitignore  bool
	disableIgnoreFile bool
	disableDefaults   bool
	includeGit        bool
}

// addPathFlags registers path-related flags on the command.
func addPathFlags(command *cobra.Command, options *pathOptions) {
	command.Flags().StringArrayVarP(&options.exclusionPatterns, exclusionFlagName, exclusionFlagShorthand, nil, exclusionFlagDescription)
	command.Flags().BoolVar(&options.disableGitignore, noGitignoreFlagName, false, disableGitignoreFlagDescription)
	command.Flags().BoolVar(&options.disableIgnoreFile, noIgnoreFlagName, false, disableIgnoreFlagDescription)
	command.Flags().BoolVar(&options.disableDefaults, noDefaultExcludesName, false, disableDefaultsFlagDescription)
	command.Flags().BoolVar(&options.includeGit, includeGitFlagName, false, includeGitFlagDescription)
}

// resolve overlays the flags that were set on the configured path options.
func (options pathOptions) resolve(command *cobra.Command, configuration config.PathConfiguration) (config.IgnoreOptions, []string) {
	ignoreOptions := configuration.IgnoreOptions()
	flags := command.Flags()
	if flags.Changed(noGitignoreFlagName) {
		ignoreOptions.UseGitignore = !options.disableGitignore
	}
	if flags.Changed(noIgnoreFlagName) {
		ignoreOptions.UseIgnoreFile = !options.disableIgnoreFile
	}
	if flags.Changed(noDefaultExcludesName) {
		ignoreOptions.UseDefaultExcludes = !options.disableDefaults
	}
	if flags.Changed(includeGitFlagName) {
		ignoreOptions.IncludeGit = options.includeGit
	}
	patterns := append(append([]string{}, configuration.Exclude...), options.exclusionPatterns...)
	return ignoreOptions, utils.DeduplicatePatterns(patterns)
}

// createTreeCommand returns the tree subcommand.
func createTreeCommand(state *application) *cobra.Command {
	var pathConfiguration pathOptions
	var outputFormat string

	treeCommand := &cobra.Command{
		Use:     treeUse,
		Aliases: []string{treeAlias},
		Short:   treeShortDescription,
		Long:    treeLongDescription,
		Example: treeUsageExample,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(command *cobra.Command, arguments []string) error {
			outputFormatLower := strings.ToLower(outputFormat)
			if outputFormatLower != types.FormatRaw && outputFormatLower != types.FormatJSON {
				return fmt.Errorf(invalidFormatMessage, outputFormat)
			}
			ignoreOptions, patterns := pathConfiguration.resolve(command, state.configuration.Paths)
			return runTree(command.OutOrStdout(), directoryArgument(arguments), patterns, ignoreOptions, outputFormatLower, state.logger)
		},
	}

	addPathFlags(treeCommand, &pathConfiguration)
	treeCommand.Flags().StringVar(&outputFormat, formatFlagName, types.FormatRaw, treeFormatFlagDescription)
	return treeCommand
}

func runTree(writer io.Writer, directoryPath string, patterns []string, ignoreOptions config.IgnoreOptions, outputFormat string, logger *zap.Logger) error {
	tree, scanError := scanner.NewScanner(ignoreOptions, logger).Scan(directoryPath, patterns)
	if scanError != nil {
		return scanError
	}
	if outputFormat == types.FormatJSON {
		rendered, renderError := output.RenderTreeJSON(tree)
		if renderError != nil {
			return renderError
		}
		_, writeError := fmt.Fprintln(writer, rendered)
		return writeError
	}
	_, writeError := io.WriteString(writer, output.RenderTreeRaw(tree))
	return writeError
}

// documentOptions stores flags shared by generate and watch.
type documentOptions struct {
	format      string
	destination string
	copy        bool
}

func addDocumentFlags(command *cobra.Command, options *documentOptions) {
	command.Flags().StringVar(&options.format, formatFlagName, document.Markdown.String(), documentFormatFlagDescription)
	command.Flags().StringVarP(&options.destination, outputFlagName, "o", "", outputFlagDescription)
	registerOptionalBooleanFlag(command.Flags(), &options.copy, copyFlagName, false, copyFlagDescription)
}

// documentRequest is a fully resolved generate or watch invocation.
type documentRequest struct {
	directoryPath string
	selectPaths   []string
	format        document.Format
	destination   string
	copy          bool
	options       session.Options
}

// buildRequest merges configuration and flags into a documentRequest.
func (state *application) buildRequest(command *cobra.Command, arguments []string, paths pathOptions, documentFlags documentOptions) (documentRequest, error) {
	flags := command.Flags()
	configured := state.configuration.Document

	formatName := configured.Format
	if flags.Changed(formatFlagName) || formatName == "" {
		formatName = documentFlags.format
	}
	format, known := document.ParseFormat(formatName)
	if !known {
		return documentRequest{}, fmt.Errorf(invalidFormatMessage, formatName)
	}

	destination := configured.Output
	if flags.Changed(outputFlagName) {
		absoluteDestination, absoluteError := filepath.Abs(documentFlags.destination)
		if absoluteError != nil {
			return documentRequest{}, fmt.Errorf(errorAbsoluteOutputPathFormat, documentFlags.destination, absoluteError)
		}
		destination = absoluteDestination
	}

	copyEnabled := configured.Copy != nil && *configured.Copy
	if flags.Changed(copyFlagName) {
		copyEnabled = documentFlags.copy
	}

	ignoreOptions, patterns := paths.resolve(command, state.configuration.Paths)
	selectPaths := []string{defaultPath}
	if len(arguments) > 1 {
		selectPaths = arguments[1:]
	}
	return documentRequest{
		directoryPath: directoryArgument(arguments),
		selectPaths:   selectPaths,
		format:        format,
		destination:   destination,
		copy:          copyEnabled,
		options: session.Options{
			IgnorePatterns: patterns,
			Ignore:         ignoreOptions,
			WatchMode:      monitor.ModeDirectory,
			Monitor: monitor.Options{
				Debounce: state.configuration.Watch.Debounce,
				Tick:     state.configuration.Watch.Tick,
			},
		},
	}, nil
}

// createGenerateCommand returns the generate subcommand.
func createGenerateCommand(state *application) *cobra.Command {
	var pathConfiguration pathOptions
	var documentConfiguration documentOptions

	generateCommand := &cobra.Command{
		Use:     generateUse,
		Aliases: []string{generateAlias},
		Short:   generateShortDescription,
		Long:    generateLongDescription,
		Example: generateUsageExample,
		Args:    cobra.ArbitraryArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			request, requestError := state.buildRequest(command, arguments, pathConfiguration, documentConfiguration)
			if requestError != nil {
				return requestError
			}
			return state.runDocumentSession(command.Context(), command.OutOrStdout(), request, nil)
		},
	}

	addPathFlags(generateCommand, &pathConfiguration)
	addDocumentFlags(generateCommand, &documentConfiguration)
	return generateCommand
}

// createWatchCommand returns the watch subcommand.
func createWatchCommand(state *application) *cobra.Command {
	var pathConfiguration pathOptions
	var documentConfiguration documentOptions
	var watchMode string
	var debounce time.Duration

	watchCommand := &cobra.Command{
		Use:     watchUse,
		Aliases: []string{watchAlias},
		Short:   watchShortDescription,
		Long:    watchLongDescription,
		Example: watchUsageExample,
		Args:    cobra.ArbitraryArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			request, requestError := state.buildRequest(command, arguments, pathConfiguration, documentConfiguration)
			if requestError != nil {
				return requestError
			}
			modeName := state.configuration.Watch.Mode
			if command.Flags().Changed(modeFlagName) || modeName == "" {
				modeName = watchMode
			}
			mode, known := monitor.ParseMode(modeName)
			if !known {
				return fmt.Errorf(invalidModeMessage, modeName)
			}
			request.options.WatchMode = mode
			if command.Flags().Changed(debounceFlagName) {
				request.options.Monitor.Debounce = debounce
			}

			signalContext, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			writer := command.OutOrStdout()
			return state.runDocumentSession(signalContext, writer, request, func(ctx context.Context, sessionInstance *session.Session) error {
				if watchError := sessionInstance.StartWatch(ctx); watchError != nil {
					return watchError
				}
				if _, printError := fmt.Fprintf(writer, watchingFormat, request.directoryPath, mode); printError != nil {
					return printError
				}
				return state.followEvents(ctx, sessionInstance)
			})
		},
	}

	addPathFlags(watchCommand, &pathConfiguration)
	addDocumentFlags(watchCommand, &documentConfiguration)
	watchCommand.Flags().StringVar(&watchMode, modeFlagName, monitor.ModeDirectory.String(), modeFlagDescription)
	watchCommand.Flags().DurationVar(&debounce, debounceFlagName, monitor.DefaultDebounce, debounceFlagDescription)
	return watchCommand
}

// createInitCommand returns the init subcommand. It skips configuration
// loading so that a malformed file can be replaced with --force.
func createInitCommand() *cobra.Command {
	var global bool
	var force bool

	initCommand := &cobra.Command{
		Use:   initUse,
		Short: initShortDescription,
		Long:  initLongDescription,
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return nil
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			workingDirectory, workingDirectoryError := os.Getwd()
			if workingDirectoryError != nil {
				return fmt.Errorf(errorWorkingDirectoryFormat, workingDirectoryError)
			}
			target := config.InitTargetLocal
			if global {
				target = config.InitTargetGlobal
			}
			writtenPath, initError := config.InitializeConfiguration(config.InitOptions{
				Target:           target,
				Force:            force,
				WorkingDirectory: workingDirectory,
			})
			if initError != nil {
				return initError
			}
			_, printError := fmt.Fprintf(command.OutOrStdout(), configurationWrittenFormat, writtenPath)
			return printError
		},
	}
	initCommand.Flags().BoolVar(&global, globalFlagName, false, globalFlagDescription)
	initCommand.Flags().BoolVar(&force, forceFlagName, false, forceFlagDescription)
	return initCommand
}

// runDocumentSession runs a session next to the caller's work: it opens the
// directory, selects the requested paths, writes the document and then hands
// the session to follow, if any. The session is closed when the work ends.
func (state *application) runDocumentSession(
	ctx context.Context,
	writer io.Writer,
	request documentRequest,
	follow func(context.Context, *session.Session) error,
) error {
	sessionInstance := session.New(request.options, state.logger)
	group, groupContext := errgroup.WithContext(ctx)

	group.Go(func() error {
		return sessionInstance.Run(groupContext)
	})

	group.Go(func() error {
		defer func() {
			_ = sessionInstance.Close(context.Background())
		}()
		generated, generateError := state.generateDocument(groupContext, sessionInstance, request)
		if generateError != nil {
			return generateError
		}
		if _, printError := fmt.Fprintln(writer, output.RenderSummary(generated.Summary, generated.Path)); printError != nil {
			return printError
		}
		if request.copy {
			if copyError := state.dependencies.newCopier().CopyFile(generated.Path); copyError != nil {
				return fmt.Errorf(errorCopyFormat, copyError)
			}
			state.logger.Info(infoDocumentCopied, zap.String("path", generated.Path))
		}
		if follow == nil {
			return nil
		}
		return follow(groupContext, sessionInstance)
	})

	if waitError := group.Wait(); waitError != nil && !errors.Is(waitError, context.Canceled) {
		return waitError
	}
	return nil
}

func (state *application) generateDocument(ctx context.Context, sessionInstance *session.Session, request documentRequest) (session.Event, error) {
	if openError := sessionInstance.Open(ctx, request.directoryPath); openError != nil {
		return session.Event{}, openError
	}
	if _, scanError := state.awaitEvent(ctx, sessionInstance, session.ScanCompleted); scanError != nil {
		return session.Event{}, scanError
	}
	if selectError := sessionInstance.Select(ctx, request.selectPaths); selectError != nil {
		return session.Event{}, selectError
	}
	if generateError := sessionInstance.Generate(ctx, request.format, request.destination); generateError != nil {
		return session.Event{}, generateError
	}
	return state.awaitEvent(ctx, sessionInstance, session.GenerateCompleted)
}

// awaitEvent returns the next event of kind, logging the events before it.
func (state *application) awaitEvent(ctx context.Context, sessionInstance *session.Session, kind session.EventKind) (session.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return session.Event{}, ctx.Err()
		case <-sessionInstance.Done():
			return session.Event{}, session.ErrClosed
		case event := <-sessionInstance.Events():
			if event.Kind != kind {
				state.logEvent(event)
				continue
			}
			return event, event.Err
		}
	}
}

// followEvents logs session events until ctx ends or monitoring fails.
func (state *application) followEvents(ctx context.Context, sessionInstance *session.Session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sessionInstance.Done():
			return nil
		case event := <-sessionInstance.Events():
			if event.Kind == session.WatchFailed {
				return event.Err
			}
			state.logEvent(event)
		}
	}
}

func (state *application) logEvent(event session.Event) {
	if event.Err != nil {
		state.logger.Warn(warningEventFailed, zap.String("kind", event.Kind.String()), zap.String("path", event.Path), zap.Error(event.Err))
		return
	}
	switch event.Kind {
	case session.GenerateCompleted:
		state.logger.Info(infoDocumentUpdated,
			zap.String("path", event.Path),
			zap.Int("files", event.Summary.Files),
			zap.String("size", utils.FormatFileSize(event.Summary.Bytes)))
	case session.SectionPatched:
		state.logger.Info(infoSectionPatched, zap.String("path", event.Path))
	case session.ChangeDetected:
		state.logger.Debug(debugChangeDetected, zap.String("path", event.Path), zap.Strings("paths", event.Change.Paths))
	default:
		state.logger.Debug(debugScanCompleted, zap.String("path", event.Path))
	}
}

func directoryArgument(arguments []string) string {
	if len(arguments) == 0 {
		return defaultPath
	}
	return arguments[0]
}

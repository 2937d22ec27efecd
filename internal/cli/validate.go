package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hgpeer/internal/config"
)

// ValidationResult summarizes a valid configuration.
type ValidationResult struct {
	Valid          bool     `json:"valid"`
	Peers          []string `json:"peers"`
	MaxWorkers     int      `json:"max_workers"`
	AffirmIdentity bool     `json:"affirm_identity"`
	Journal        string   `json:"journal,omitempty"`
	Metrics        bool     `json:"metrics"`
}

// ErrorLocation is the details payload of a positioned config error.
type ErrorLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate a peer configuration",
		Long: `Check a CUE peer configuration against the built-in schema without
starting any peer. Reports the first error with its file position.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		return reportConfigError(formatter, err)
	}

	result := ValidationResult{
		Valid:          true,
		Peers:          []string{},
		MaxWorkers:     cfg.Scheduler.MaxWorkers,
		AffirmIdentity: cfg.Bootstrap.AffirmIdentity,
		Journal:        cfg.Journal.Path,
		Metrics:        cfg.Metrics.Enabled,
	}
	for _, p := range cfg.AllPeers() {
		result.Peers = append(result.Peers, p.Name)
		formatter.VerboseLog("peer %s at %s", p.Name, p.Address)
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid (%d peer(s): %s)\n",
		path, len(result.Peers), strings.Join(result.Peers, ", "))
	return nil
}

// reportConfigError prints a config.LoadError with its position. A missing
// file is a command error; anything else is a validation failure.
func reportConfigError(f *OutputFormatter, err error) error {
	var loadErr *config.LoadError
	if !errors.As(err, &loadErr) {
		return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	var details any
	if loadErr.Pos.IsValid() {
		details = ErrorLocation{
			File:   loadErr.Pos.Filename(),
			Line:   loadErr.Pos.Line(),
			Column: loadErr.Pos.Column(),
		}
	}
	exitCode := ExitFailure
	if loadErr.Code == config.ErrCodeNotFound {
		exitCode = ExitCommandError
	}
	if err := f.Error(loadErr.Code, loadErr.Error(), details); err != nil {
		return err
	}
	return WrapExitError(exitCode, "invalid configuration", loadErr)
}

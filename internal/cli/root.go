// internal/cli/root.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tamzrod/fieldcomm/internal/config"
)

// NewRootCommand creates the fieldcomm command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fieldcomm",
		Short: "Device communication engine for roadside controllers",
		Long: `fieldcomm runs one worker per communication link, serializing
prioritized multi-phase operations to the controllers on that link.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	return cmd
}

// loadConfig loads, validates and normalizes a configuration file.
func loadConfig(path string) (*config.Config, error) {
	c, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if err := config.Validate(c); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(c)
	return c, nil
}

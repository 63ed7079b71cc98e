// internal/cli/validate.go
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config.yaml>",
		Short: "Check a configuration file without opening any link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			controllers, slots := 0, 0
			for _, l := range c.Links {
				controllers += len(l.Controllers)
				for _, ctl := range l.Controllers {
					if ctl.StatusSlot != nil {
						slots++
					}
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d links, %d controllers, %d status blocks\n",
				len(c.Links), controllers, slots)
			return nil
		},
	}
}

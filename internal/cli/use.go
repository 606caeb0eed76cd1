package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/gvm/pkg/model"
)

// NewUseCmd creates the use (switch) command.
func NewUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "use VERSION",
		Aliases: []string{"switch"},
		Short:   "Switch the active Go version",
		Long: `Atomically retarget the active link at an installed version. Readers
observing the link see either the previous or the new version, never a
partial state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := model.Parse(args[0])
			if err != nil {
				return err
			}

			c, err := loadComponents()
			if err != nil {
				return err
			}

			if err := c.newOrchestrator().Switch(cmd.Context(), version); err != nil {
				return fmt.Errorf("failed to switch to go%s: %w", version, err)
			}

			fmt.Printf("now using go%s\n", version)
			return nil
		},
	}
	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCleanCmd creates the clean command. Cache eviction is explicit only;
// nothing is ever evicted implicitly.
func NewCleanCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove transient download state and cached archives",
		Long: `Remove leftover staging and trash directories plus interrupted download
state (.part files and chunk maps). With --all, cached archives are removed
as well; subsequent installs download again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadComponents()
			if err != nil {
				return err
			}

			if err := c.newOrchestrator().Clean(cmd.Context(), all); err != nil {
				return fmt.Errorf("failed to clean: %w", err)
			}
			fmt.Println("clean complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also remove cached archives")

	return cmd
}

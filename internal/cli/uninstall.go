package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/gvm/pkg/model"
	"github.com/glorpus-work/gvm/pkg/orchestrator"
)

// NewUninstallCmd creates the uninstall command.
func NewUninstallCmd() *cobra.Command {
	var allowActive bool

	cmd := &cobra.Command{
		Use:   "uninstall VERSION",
		Short: "Remove an installed Go version",
		Long: `Remove a version directory from the version root. Removing the active
version is refused unless --allow-active is given.`,
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

			opts := orchestrator.UninstallOptions{AllowActive: allowActive}
			if err := c.newOrchestrator().Uninstall(cmd.Context(), version, opts); err != nil {
				return fmt.Errorf("failed to uninstall go%s: %w", version, err)
			}

			fmt.Printf("go%s uninstalled\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowActive, "allow-active", false, "Permit removing the currently active version")

	return cmd
}

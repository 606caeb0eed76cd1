package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/gvm/pkg/model"
	"github.com/glorpus-work/gvm/pkg/orchestrator"
)

// NewInstallCmd creates the install command.
func NewInstallCmd() *cobra.Command {
	var (
		force      bool
		noActivate bool
	)

	cmd := &cobra.Command{
		Use:   "install VERSION",
		Short: "Download and install a Go version",
		Long: `Download the official archive for a Go version, verify its checksum,
unpack it under the version root and activate it. Use --no-activate to
install without switching.`,
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

			opts := orchestrator.InstallOptions{Force: force, Activate: !noActivate}
			if err := c.newOrchestrator().Install(cmd.Context(), version, opts); err != nil {
				return fmt.Errorf("failed to install go%s: %w", version, err)
			}

			fmt.Printf("go%s installed", version)
			if !noActivate {
				fmt.Print(" and active")
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reinstall even when the version is already present")
	cmd.Flags().BoolVar(&noActivate, "no-activate", false, "Install without switching the active version")

	return cmd
}

package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var (
		available bool
		unstable  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed or available Go versions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadComponents()
			if err != nil {
				return err
			}

			marker := color.New(color.FgGreen, color.Bold)
			if noColor() {
				marker.DisableColor()
			}

			if available {
				versions, err := c.index.ListAvailable(cmd.Context(), unstable)
				if err != nil {
					return fmt.Errorf("failed to list available versions: %w", err)
				}
				installedSet := make(map[string]bool)
				if installed, err := c.store.ListInstalled(); err == nil {
					for _, v := range installed {
						installedSet[v] = true
					}
				}
				for _, v := range versions {
					if installedSet[v] {
						fmt.Printf("go%s %s\n", v, marker.Sprint("[installed]"))
					} else {
						fmt.Printf("go%s\n", v)
					}
				}
				return nil
			}

			installed, err := c.store.ListInstalled()
			if err != nil {
				return fmt.Errorf("failed to list installed versions: %w", err)
			}
			if len(installed) == 0 {
				fmt.Println("no versions installed")
				return nil
			}

			active, hasActive, _ := c.store.ActiveVersion()
			for _, v := range installed {
				if hasActive && v == active {
					fmt.Printf("%s go%s\n", marker.Sprint("*"), v)
				} else {
					fmt.Printf("  go%s\n", v)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&available, "available", false, "List versions available upstream instead of installed ones")
	cmd.Flags().BoolVar(&unstable, "unstable", false, "Include release candidates and betas (with --available)")

	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the version root, installed versions and the active version",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := loadComponents()
			if err != nil {
				return err
			}

			st, err := c.store.Status()
			if err != nil {
				return fmt.Errorf("failed to read status: %w", err)
			}

			fmt.Printf("root:      %s\n", st.RootPath)
			fmt.Printf("platform:  %s\n", c.platform)
			if st.HasActive {
				fmt.Printf("active:    go%s", st.Active)
				if !st.ActiveValid {
					fmt.Print(" (dangling: version directory is missing)")
				}
				fmt.Println()
			} else {
				fmt.Println("active:    none")
			}
			fmt.Printf("installed: %d\n", len(st.Installed))
			for _, v := range st.Installed {
				fmt.Printf("  go%s\n", v)
			}
			return nil
		},
	}
	return cmd
}

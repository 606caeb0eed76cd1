package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/gvm/pkg/model"
)

// NewInfoCmd creates the info command.
func NewInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info VERSION",
		Short: "Show details about a Go version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := model.Parse(args[0])
			if err != nil {
				return err
			}

			c, err := loadComponents()
			if err != nil {
				return err
			}

			installed := c.store.IsInstalled(version)
			active, hasActive, _ := c.store.ActiveVersion()

			fmt.Printf("version:   go%s\n", version)
			fmt.Printf("installed: %t\n", installed)
			fmt.Printf("active:    %t\n", hasActive && active == version)
			if installed {
				fmt.Printf("path:      %s\n", c.store.VersionDir(version))
			}

			// Manifest details are best-effort; an unreachable index does
			// not fail the local report.
			fd, err := c.index.Resolve(cmd.Context(), version)
			if err == nil {
				fmt.Printf("archive:   %s\n", fd.Filename)
				fmt.Printf("size:      %d\n", fd.Size)
				fmt.Printf("sha256:    %s\n", fd.SHA256)
			} else if verbose() {
				fmt.Printf("manifest:  unavailable (%v)\n", err)
			}
			return nil
		},
	}
	return cmd
}

package commands

import (
	"fmt"

	"github.com/sendrotor/sendrotor/cmd/sendrotor-cli/client"
	"github.com/spf13/cobra"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Tenant-level controls",
}

func init() {
	rootCmd.AddCommand(tenantCmd)

	pauseCmd := &cobra.Command{
		Use:   "pause <tenant_id>",
		Short: "Stop dequeues for a tenant",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := client.NewClient(apiURL).PauseTenant(args[0]); err != nil {
				fatal(err)
			}
			fmt.Printf("Tenant %s paused\n", args[0])
		},
	}
	tenantCmd.AddCommand(pauseCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume <tenant_id>",
		Short: "Resume dequeues for a tenant",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := client.NewClient(apiURL).ResumeTenant(args[0]); err != nil {
				fatal(err)
			}
			fmt.Printf("Tenant %s resumed\n", args[0])
		},
	}
	tenantCmd.AddCommand(resumeCmd)
}

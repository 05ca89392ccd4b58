package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sendrotor/sendrotor/cmd/sendrotor-cli/client"
	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and requeue dead-lettered items",
}

func init() {
	rootCmd.AddCommand(dlqCmd)

	var (
		listTenant string
		listLimit  int
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered items, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			apiClient := client.NewClient(apiURL)

			entries, err := apiClient.ListDeadLetters(listTenant, listLimit)
			if err != nil {
				fatal(err)
			}
			if len(entries) == 0 {
				fmt.Println("Dead letter queue is empty")
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTENANT\tKIND\tTARGET\tREASON\tATTEMPTS\tWHEN")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					e.Item.ID, e.Item.TenantID, e.Item.Kind, e.Item.Target,
					e.Reason, len(e.Attempts), e.DeadLetteredAt.Format("2006-01-02 15:04:05"))
			}
			w.Flush()
		},
	}
	listCmd.Flags().StringVar(&listTenant, "tenant", "", "Filter by tenant id")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum entries to show")
	dlqCmd.AddCommand(listCmd)

	requeueCmd := &cobra.Command{
		Use:   "requeue <item_id>",
		Short: "Move a dead-lettered item back into the queue",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			apiClient := client.NewClient(apiURL)

			item, err := apiClient.Requeue(args[0])
			if err != nil {
				fatal(err)
			}

			fmt.Printf("Requeued item %s with a fresh attempt budget\n", item.ID)
		},
	}
	dlqCmd.AddCommand(requeueCmd)
}

package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sendrotor/sendrotor/cmd/sendrotor-cli/client"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the work queue",
}

func init() {
	rootCmd.AddCommand(queueCmd)

	var (
		enqueueTier    string
		enqueueKind    string
		enqueuePayload string
		enqueueGroup   string
	)

	enqueueCmd := &cobra.Command{
		Use:   "enqueue <tenant_id> <target>",
		Short: "Submit a send or probe for a target address",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			apiClient := client.NewClient(apiURL)

			var payload []byte
			if enqueuePayload != "" {
				payload = []byte(enqueuePayload)
			}

			item, err := apiClient.Enqueue(args[0], enqueueTier, enqueueKind, args[1], enqueueGroup, payload)
			if err != nil {
				fatal(err)
			}

			fmt.Printf("Enqueued %s item %s for %s\n", item.Kind, item.ID, item.Target)
		},
	}
	enqueueCmd.Flags().StringVar(&enqueueTier, "tier", "free", "Plan tier (free or premium)")
	enqueueCmd.Flags().StringVar(&enqueueKind, "kind", "send", "Item kind (send or probe)")
	enqueueCmd.Flags().StringVar(&enqueuePayload, "payload", "", "Raw message payload for send items")
	enqueueCmd.Flags().StringVar(&enqueueGroup, "group", "", "Restrict delivery to a sender account rotation group")
	queueCmd.AddCommand(enqueueCmd)

	showCmd := &cobra.Command{
		Use:   "show <item_id>",
		Short: "Show an item with its attempt history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			apiClient := client.NewClient(apiURL)

			detail, err := apiClient.GetItem(args[0])
			if err != nil {
				fatal(err)
			}

			fmt.Printf("ID:       %s\n", detail.Item.ID)
			fmt.Printf("Tenant:   %s\n", detail.Item.TenantID)
			fmt.Printf("Kind:     %s (%s tier)\n", detail.Item.Kind, detail.Item.Tier)
			fmt.Printf("Target:   %s\n", detail.Item.Target)
			fmt.Printf("Status:   %s\n", detail.Status)
			fmt.Printf("Attempts: %d\n", detail.Item.AttemptCount)

			if len(detail.Attempts) > 0 {
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tACCOUNT\tRESULT\tERROR")
				for _, a := range detail.Attempts {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						a.Timestamp.Format("2006-01-02 15:04:05"), a.AccountID, a.Result, a.Error)
				}
				w.Flush()
			}
		},
	}
	queueCmd.AddCommand(showCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue occupancy",
		Run: func(cmd *cobra.Command, args []string) {
			apiClient := client.NewClient(apiURL)

			stats, err := apiClient.GetQueueStats()
			if err != nil {
				fatal(err)
			}

			fmt.Printf("Pending:       %d\n", stats.PendingCount)
			fmt.Printf("In flight:     %d\n", stats.InFlightCount)
			fmt.Printf("Completed:     %d\n", stats.CompletedCount)
			fmt.Printf("Dead lettered: %d\n", stats.DeadLetteredCount)
		},
	}
	queueCmd.AddCommand(statsCmd)
}

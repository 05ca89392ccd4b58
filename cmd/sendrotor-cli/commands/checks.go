package commands

import (
	"fmt"

	"github.com/sendrotor/sendrotor/cmd/sendrotor-cli/client"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run deliverability checks",
}

func init() {
	rootCmd.AddCommand(checkCmd)

	emailCmd := &cobra.Command{
		Use:   "email <address>",
		Short: "Check whether an address looks deliverable",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			verdict, err := client.NewClient(apiURL).CheckEmail(args[0])
			if err != nil {
				fatal(err)
			}

			fmt.Printf("Address:  %s\n", verdict.Address)
			fmt.Printf("Domain:   %s\n", verdict.Domain)
			fmt.Printf("State:    %s\n", verdict.State)
			fmt.Printf("Category: %s\n", verdict.Category)
			if verdict.Detail != "" {
				fmt.Printf("Detail:   %s\n", verdict.Detail)
			}
		},
	}
	checkCmd.AddCommand(emailCmd)

	domainCmd := &cobra.Command{
		Use:   "domain <domain>",
		Short: "Check a sender domain's SPF, DKIM, and DMARC posture",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			report, err := client.NewClient(apiURL).CheckDomain(args[0])
			if err != nil {
				fatal(err)
			}

			yesno := func(b bool) string {
				if b {
					return "yes"
				}
				return "no"
			}

			fmt.Printf("Domain: %s\n", report.Domain)
			fmt.Printf("SPF:    %s\n", yesno(report.HasSPF))
			fmt.Printf("DKIM:   %s\n", yesno(report.HasDKIM))
			fmt.Printf("DMARC:  %s\n", yesno(report.HasDMARC))
			fmt.Printf("Risk:   %s (score %d)\n", report.RiskLevel, report.RiskScore)
		},
	}
	checkCmd.AddCommand(domainCmd)
}

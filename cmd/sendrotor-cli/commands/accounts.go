package commands

import (
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"github.com/sendrotor/sendrotor/cmd/sendrotor-cli/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage sending accounts",
}

func init() {
	rootCmd.AddCommand(accountCmd)

	var (
		registerHost       string
		registerPort       int
		registerUsername   string
		registerGroup      string
		registerSkipVerify bool
	)

	registerCmd := &cobra.Command{
		Use:   "register <account_id> <tenant_id>",
		Short: "Register a sending account",
		Long: `Register an SMTP sending account. The password is read from the
SENDROTOR_SMTP_PASSWORD environment variable or prompted for on the terminal;
it is never accepted as a flag.`,
		Args: cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			password := os.Getenv("SENDROTOR_SMTP_PASSWORD")
			if password == "" {
				fmt.Fprint(os.Stderr, "SMTP password: ")
				raw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					fatal(err)
				}
				password = string(raw)
			}

			apiClient := client.NewClient(apiURL)
			status, err := apiClient.RegisterAccount(client.RegisterAccountRequest{
				ID:            args[0],
				TenantID:      args[1],
				Host:          registerHost,
				Port:          registerPort,
				Username:      registerUsername,
				Password:      password,
				RotationGroup: registerGroup,
				SkipVerify:    registerSkipVerify,
			})
			if err != nil {
				fatal(err)
			}

			fmt.Printf("Registered account %s (%s)\n", status.ID, status.State)
		},
	}
	registerCmd.Flags().StringVar(&registerHost, "host", "", "SMTP host")
	registerCmd.Flags().IntVar(&registerPort, "port", 587, "SMTP port")
	registerCmd.Flags().StringVar(&registerUsername, "username", "", "SMTP username")
	registerCmd.Flags().StringVar(&registerGroup, "group", "", "Rotation group")
	registerCmd.Flags().BoolVar(&registerSkipVerify, "skip-verify", false, "Skip the credential check against the provider")
	registerCmd.MarkFlagRequired("host")
	registerCmd.MarkFlagRequired("username")
	accountCmd.AddCommand(registerCmd)

	listCmd := &cobra.Command{
		Use:   "list <tenant_id>",
		Short: "List a tenant's accounts",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			apiClient := client.NewClient(apiURL)

			statuses, err := apiClient.ListAccounts(args[0])
			if err != nil {
				fatal(err)
			}
			if len(statuses) == 0 {
				fmt.Println("No accounts registered")
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tHOURLY\tDAILY\tREASON")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					s.ID, s.State, s.HourlyUsed, s.DailyUsed, s.SuspendReason)
			}
			w.Flush()
		},
	}
	accountCmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show <account_id>",
		Short: "Show one account's health and usage",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			apiClient := client.NewClient(apiURL)

			status, err := apiClient.GetAccount(args[0])
			if err != nil {
				fatal(err)
			}

			fmt.Printf("ID:          %s\n", status.ID)
			fmt.Printf("Tenant:      %s\n", status.TenantID)
			fmt.Printf("State:       %s\n", status.State)
			fmt.Printf("Hourly used: %d\n", status.HourlyUsed)
			fmt.Printf("Daily used:  %d\n", status.DailyUsed)
			if status.SuspendReason != "" {
				fmt.Printf("Suspended:   %s\n", status.SuspendReason)
			}
		},
	}
	accountCmd.AddCommand(showCmd)

	resetCmd := &cobra.Command{
		Use:   "reset <account_id>",
		Short: "Clear an account's suspension and failure counters",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			apiClient := client.NewClient(apiURL)

			status, err := apiClient.ResetAccount(args[0])
			if err != nil {
				fatal(err)
			}

			fmt.Printf("Account %s is now %s\n", status.ID, status.State)
		},
	}
	accountCmd.AddCommand(resetCmd)
}

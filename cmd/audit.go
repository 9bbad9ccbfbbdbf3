package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darmiel/trustbroker/pkg/client"
)

var auditLogOpts client.ListAuditsOpts

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Administrative audit commands",
	Long:  `View the audit trail of the server. Requires an admin token (trustbroker login).`,
}

var auditLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Retrieve and display audit log entries",
	Example: `  trustbroker audit log -n 50 --owner alice@EXAMPLE.COM
  trustbroker audit log --fingerprint $(trustbroker fingerprint --raw "$TOKEN")`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		log.Debug().Msg("Fetching audit log...")
		audits, correlation, err := cli.ListAudits(cmd.Context(), auditLogOpts)
		if err != nil {
			return logError(err, correlation, "failed to retrieve audit log")
		}

		log.Info().Msgf("Retrieved %d audit entries", len(audits))

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Time", "Correlation ID", "Action", "Caller", "Owner", "Granted", "Error",
		})

		for _, e := range audits {
			status := greenCheck
			if !e.Granted {
				status = redCross
			}
			t.AppendRow(table.Row{
				e.Time.Local().Format(time.RFC3339),
				e.ID,
				e.Action,
				truncate(e.Caller.String(), 35),
				truncate(e.Owner.String(), 35),
				status,
				truncate(e.Error, 60),
			})
		}

		applyTableFormat(t)
		t.Render()
		return nil
	},
}

var auditInspectCmd = &cobra.Command{
	Use:     "inspect CORRELATION-ID",
	Short:   "Show full details of a specific audit log entry",
	Example: `  trustbroker audit inspect cu5tbb3m2p0c73b3k0g0`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		correlationID := args[0]
		if correlationID == "" {
			return fmt.Errorf("correlation ID cannot be empty")
		}

		cli, err := f.GetClient()
		if err != nil {
			return err
		}

		log.Debug().Msgf("Retrieving entry with correlation ID '%s'...", correlationID)
		audits, correlation, err := cli.ListAudits(cmd.Context(), client.ListAuditsOpts{
			Limit:         1,
			CorrelationID: correlationID,
		})
		if err != nil {
			return logError(err, correlation, "failed to retrieve audit log entry")
		}
		if len(audits) == 0 {
			log.Warn().Str("correlation_id", correlationID).Msg("no audit log entries found")
			return nil
		}

		entry := audits[0]

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		printKV := func(key string, val any) {
			if s, ok := val.(string); ok && s == "" {
				val = faint("(none)")
			}
			fmt.Printf("  %-26s %v\n", faint(key)+":", val)
		}

		status := green("granted")
		if !entry.Granted {
			status = red("denied")
		}

		fmt.Println(bold("\n── Audit Entry ──"))
		printKV("Correlation ID", entry.ID)
		printKV("Time", entry.Time.Local().Format(time.RFC1123))
		printKV("Action", entry.Action)
		printKV("Decision", status)

		fmt.Println(bold("\n── Request ──"))
		printKV("Caller", entry.Caller.String())
		printKV("Owner", entry.Owner.String())
		printKV("Scopes", strings.Join(entry.Scopes, ", "))
		printKV("Target", entry.Target)
		printKV("Session", entry.SessionID)

		fmt.Println(bold("\n── Outcome ──"))
		printKV("Identity", entry.Identity)
		printKV("Fingerprint", entry.TokenFingerprint)
		if entry.Error != "" {
			printKV("Kind", string(entry.Kind))
			printKV("Error Message", red(entry.Error))
		}
		fmt.Println()

		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditLogCmd, auditInspectCmd)

	auditLogCmd.Flags().UintVarP(&auditLogOpts.Limit, "limit", "n", 25, "Number of audit entries to retrieve")
	auditLogCmd.Flags().StringVar(&auditLogOpts.Owner, "owner", "", "Only entries for this owner")
	auditLogCmd.Flags().StringVar(&auditLogOpts.Action, "action", "", "Only entries of this action, e.g. access_token.get")
	auditLogCmd.Flags().StringVar(&auditLogOpts.Fingerprint, "fingerprint", "", "Only entries that issued this token fingerprint")
}

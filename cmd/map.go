package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/darmiel/trustbroker/internal/api"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/mapping"
)

var (
	mapReplayID   string
	mapRuleFilter string
)

var mapCmd = &cobra.Command{
	Use:   "map [PRINCIPAL]",
	Short: "Explain which cloud identity a principal maps to",
	Long: `Evaluates every mapping rule for a principal and prints why each rule matched or not.

With --config the rules of a local configuration file are evaluated. Otherwise the
running server is asked, which requires an admin token. --replay explains the owner
of an earlier request by its correlation id.`,
	Example: `  # Evaluate local rules
  trustbroker map alice@EXAMPLE.COM --config broker.yaml

  # Why was this request denied?
  trustbroker map --replay cu5tbb3m2p0c73b3k0g0 --server broker:8080`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var principal string
		if len(args) == 1 {
			principal = args[0]
		}
		if principal == "" && mapReplayID == "" {
			return fmt.Errorf("provide a principal or --replay")
		}

		if f.ConfigPath != "" {
			if mapReplayID != "" {
				return fmt.Errorf("--replay needs the server's audit trail and cannot be used with --config")
			}
			cfg, err := f.LoadServerConfig()
			if err != nil {
				return err
			}
			engine, err := mapping.New(cfg.Mapping)
			if err != nil {
				return err
			}
			trace := engine.Trace(core.Principal(principal))
			printTrace(&trace)
			return nil
		}

		cli, err := f.GetClient()
		if err != nil {
			return err
		}
		trace, correlation, err := cli.Explain(cmd.Context(), api.ExplainPayload{
			Principal: principal,
			ReplayID:  mapReplayID,
		})
		if err != nil {
			return logError(err, correlation, "failed to explain mapping")
		}
		printTrace(trace)
		return nil
	},
}

func printTrace(trace *core.MappingTrace) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Printf("\n%s for Principal: %s (primary: %s, instance: %s, realm: %s)\n",
		bold("Mapping Trace"),
		bold(trace.Principal),
		trace.Name.Primary,
		orNone(trace.Name.Instance),
		orNone(trace.Name.Realm))

	fmt.Println(faint("---------------------------------------------------"))

	for _, res := range trace.RuleResults {
		if mapRuleFilter != "" && res.RuleName != mapRuleFilter {
			continue
		}

		icon := red("✖")
		if res.Matched {
			icon = green("✔")
		}

		fmt.Printf("%s Rule: %s\n", icon, bold(res.RuleName))
		if res.Description != "" {
			fmt.Printf("  %s\n", faint(res.Description))
		}

		for _, cond := range res.ConditionResults {
			// calculate depth based on leading spaces
			trimmed := strings.TrimLeft(cond.Expression, " ")
			indent := strings.Repeat(" ", len(cond.Expression)-len(trimmed))

			// detect if this is a label
			isLogicGate := strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")

			condIcon := red("✖")
			if cond.Matched {
				condIcon = green("✔")
			}

			if isLogicGate {
				fmt.Printf("    %s%s %s\n", indent, condIcon, cyan(trimmed))
			} else {
				fmt.Printf("    %s%s %s\n", indent, condIcon, trimmed)
			}

			if cond.Reason != "" {
				reason := cond.Reason
				if cond.Matched {
					reason = faint(reason)
				} else {
					reason = yellow(reason)
				}
				fmt.Printf("%s      ↳ %s\n", indent, reason)
			}
		}

		fmt.Println()
	}

	fmt.Println("---------------------------------------------------")
	if trace.Mapped {
		fmt.Printf("Identity: %s via rule '%s'\n", bold(green(trace.Identity)), bold(trace.MatchedRule))
	} else {
		fmt.Printf("Identity: %s\n", bold(red("unmapped")))
	}
	fmt.Println()
}

func orNone(s string) string {
	if s == "" {
		return faint("-")
	}
	return s
}

func init() {
	rootCmd.AddCommand(mapCmd)

	addConfigFlag(mapCmd.Flags())
	mapCmd.Flags().StringVar(&mapReplayID, "replay", "", "Explain the owner of the request with this correlation id")
	mapCmd.Flags().StringVarP(&mapRuleFilter, "rule", "r", "", "Filter output to specific rule name (optional)")
}

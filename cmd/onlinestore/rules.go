package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wyfcoding/onlinestore/internal/monitoring/domain"
	"github.com/wyfcoding/onlinestore/internal/monitoring/infrastructure/rules"
)

func rulesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Alert rule utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate an alert rules file (defaults to alert.rules_file, then the built-in rules)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else if cfg, err := loadConfig(*configPath); err == nil {
				path = cfg.Alert.RulesFile
			}

			var loaded []*domain.Rule
			if path == "" {
				loaded = rules.Defaults()
				fmt.Fprintln(cmd.OutOrStdout(), "no rules file configured, showing built-in rules")
			} else {
				var err error
				if loaded, err = (rules.FileSource{Path: path}).Load(cmd.Context()); err != nil {
					return err
				}
			}
			printRules(cmd.OutOrStdout(), loaded)
			return nil
		},
	})
	return cmd
}

func printRules(out io.Writer, loaded []*domain.Rule) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONDITION\tFOR\tSEVERITY\tENABLED")
	for _, r := range loaded {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", r.ID, r.Condition(), r.For, r.Severity, r.Enabled)
	}
	_ = w.Flush()
}

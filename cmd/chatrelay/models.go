package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newModelsCommand() *cobra.Command {
	var probe bool
	var output string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var served []chat.ServedModels
			if probe {
				for _, name := range a.models.Names() {
					if _, err := a.models.Select(ctx, name); err != nil {
						return err
					}
				}
				served = a.models.Served(ctx)
			}
			return printModels(cmd.OutOrStdout(), a.models.Statuses(), a.settings.DefaultModel, served, output)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Probe each model and list what every provider serves")
	cmd.Flags().StringVar(&output, "output", "table", "Output format (table, yaml)")
	return cmd
}

func availabilityLabel(s chat.ModelStatus) string {
	switch {
	case s.Available == nil:
		return "unknown"
	case *s.Available:
		return "available"
	default:
		return "unavailable"
	}
}

// printModels writes the catalog statuses and, when served is not empty, the
// models each provider reported.
func printModels(w io.Writer, statuses []chat.ModelStatus, current string, served []chat.ServedModels, output string) error {
	switch output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		doc := map[string]interface{}{
			"current_model": current,
			"models":        statuses,
		}
		if len(served) > 0 {
			doc["served"] = served
		}
		return enc.Encode(doc)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tNAME\tPROVIDER\tENGINE\tSTATUS")
		for _, s := range statuses {
			marker := ""
			if s.Name == current {
				marker = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, s.Name, s.ApiType, s.Engine, availabilityLabel(s))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		return printServed(w, served)
	default:
		return errors.Errorf("unknown output format %q", output)
	}
}

func printServed(w io.Writer, served []chat.ServedModels) error {
	if len(served) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w, "\nServed by provider:"); err != nil {
		return err
	}
	for _, sm := range served {
		var line string
		if sm.Error != "" {
			line = "error: " + sm.Error
		} else {
			names := make([]string, 0, len(sm.Models))
			for _, m := range sm.Models {
				names = append(names, m.Name)
			}
			line = strings.Join(names, ", ")
		}
		if _, err := fmt.Fprintf(w, "  %-10s %s\n", sm.ApiType, line); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"sitepulse/internal/insight"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		period    string
		section   string
		projectID uint
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Generate an insight for a period and store it",
		Long: `Aggregates the events of the selected period, asks the configured model
for a narrative and prints it with the rule-based recommendations.
Without ANTHROPIC_API_KEY the static summarizer is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := a.database()
			if err != nil {
				return err
			}
			completer, err := insight.NewCompleter(insight.AnthropicConfig{
				APIKey: a.cfg.AnthropicAPIKey,
				Model:  a.cfg.AnthropicModel,
			})
			if err != nil {
				return err
			}
			svc := insight.NewService(gdb, completer, a.log, nil)

			req := insight.Request{Period: period, SectionName: section}
			if projectID != 0 {
				req.ProjectID = &projectID
			}
			res, err := svc.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(cmd, res, asJSON)
		},
	}
	cmd.Flags().StringVar(&period, "period", "7d", "window to analyze: 24h, 7d or 30d")
	cmd.Flags().StringVar(&section, "section", "", "limit the insight to one section")
	cmd.Flags().UintVar(&projectID, "project", 0, "limit the insight to one project")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func printResult(cmd *cobra.Command, res *insight.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	m := res.Metrics
	cmd.Printf("Sessions: %d  Events: %d  Conversion rate: %.1f%%\n", m.TotalSessions, m.TotalEvents, m.ConversionRate)
	cmd.Println()
	cmd.Println(res.Insight)
	if len(res.Recommendations) > 0 {
		cmd.Println()
		cmd.Println("Recommendations:")
		for _, r := range res.Recommendations {
			cmd.Printf("  - %s\n", r)
		}
	}
	if res.InsightID != 0 {
		cmd.Println()
		cmd.Printf("Stored as insight %d\n", res.InsightID)
	}
	return nil
}

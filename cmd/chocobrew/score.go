package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/franckalain/chocobrew/internal/batch"
	"github.com/franckalain/chocobrew/internal/ml"
	"github.com/franckalain/chocobrew/internal/quality"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flagUsage = map[string]string{
	quality.FieldABV:              "alcohol by volume, percent",
	quality.FieldIBU:              "bitterness, IBU",
	quality.FieldSRM:              "colour, SRM",
	quality.FieldOG:               "original gravity, e.g. 1.060",
	quality.FieldFG:               "final gravity, e.g. 1.012",
	quality.FieldCacaoPct:         "cacao content, percent",
	quality.FieldFermentationDays: "fermentation time, days",
	quality.FieldMaturationDays:   "maturation time, days",
}

func newScoreCmd() *cobra.Command {
	var modelPath string
	raw := make(map[string]*string, len(quality.FeatureNames))

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one set of measurements without storing it",
		Example: `  chocobrew score --abv 6.5 --ibu 40 --srm 6 --og 1.060 --fg 1.012 \
    --cacao_pct 8 --fermentation_days 6 --maturation_days 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			measurements := make(map[string]string, len(raw))
			for name, v := range raw {
				measurements[name] = *v
			}
			return runScore(cmd, modelPath, measurements)
		},
	}

	for _, name := range quality.FeatureNames {
		raw[name] = cmd.Flags().String(name, "", flagUsage[name])
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "model bundle (JSON or YAML); fallback formula when empty")
	return cmd
}

func runScore(cmd *cobra.Command, modelPath string, measurements map[string]string) error {
	modelType := "none"
	if modelPath != "" {
		modelType = "local"
	}
	loader, err := ml.NewLoader(modelType, modelPath)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	state := ml.LoadState(cmd.Context(), loader, log)
	if absent, ok := state.(ml.Absent); ok && modelPath != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "model not loaded, using fallback: %s\n", absent.Reason)
	}

	svc := batch.NewService(batch.Config{Estimator: ml.NewEstimator(state, log), Log: log})
	assessment, err := svc.Preview(measurements)
	if err != nil {
		return err
	}

	printAssessment(cmd.OutOrStdout(), assessment)
	return nil
}

var categoryColors = map[quality.Category]string{
	quality.CategoryPremium:   "10",
	quality.CategoryExcellent: "10",
	quality.CategoryVeryGood:  "12",
	quality.CategoryGood:      "3",
	quality.CategoryRegular:   "9",
}

func printAssessment(w io.Writer, a batch.Assessment) {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	category := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(categoryColors[a.Category]))

	fmt.Fprintln(w, header.Render("Quality"))
	fmt.Fprintf(w, "  %.2f / 5  %s  %s\n", a.Score, category.Render(string(a.Category)), dim.Render("("+string(a.Source)+")"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, header.Render("Nutrition per 100 ml"))
	fmt.Fprintf(w, "  energy        %8.2f kcal\n", a.Nutrition.EnergyKcal)
	fmt.Fprintf(w, "  carbohydrate  %8.2f g\n", a.Nutrition.CarbohydrateG)
	fmt.Fprintf(w, "  sugar         %8.2f g\n", a.Nutrition.SugarG)
	fmt.Fprintf(w, "  protein       %8.2f g\n", a.Nutrition.ProteinG)
	fmt.Fprintf(w, "  fat           %8.2f g\n", a.Nutrition.FatG)
}

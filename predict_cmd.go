package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cvdrisk/audit"
	"cvdrisk/ml"
)

var (
	predictWeight      string
	predictCholesterol string
	predictShow        bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Run one prediction offline and append it to the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		form := map[string]string{}
		if cmd.Flags().Changed("weight") {
			form[ml.FeatureWeight] = predictWeight
		}
		if cmd.Flags().Changed("cholesterol") {
			form[ml.FeatureCholesterol] = predictCholesterol
		}

		a, err := newApp(cfg, zap.L())
		if err != nil {
			return err
		}
		defer a.Close()

		return runPredict(cmd.Context(), cmd.OutOrStdout(), a, form, predictShow)
	},
}

func init() {
	predictCmd.Flags().StringVar(&predictWeight, "weight", "", "patient weight")
	predictCmd.Flags().StringVar(&predictCholesterol, "cholesterol", "", "patient cholesterol")
	predictCmd.Flags().BoolVar(&predictShow, "show", false, "print the audit log after predicting")
	rootCmd.AddCommand(predictCmd)
}

func runPredict(ctx context.Context, out io.Writer, a *app, form map[string]string, show bool) error {
	outcome := a.predictor.Handle(ctx, form)
	fmt.Fprintln(out, outcome.Text())

	if show {
		header, rows, err := audit.ReadAll(a.csv.Path())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, strings.Join(header, ","))
		for _, row := range rows {
			fmt.Fprintln(out, strings.Join(row, ","))
		}
	}

	if !outcome.Success() {
		return eris.Errorf("prediction failed (%s)", outcome.Kind)
	}
	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/painreview/internal/config"
	"github.com/painreview/internal/engine"
	"github.com/painreview/pkg/models"
)

// AnalyzeCommand returns the analyze command
func AnalyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Run a one-shot analysis of a source file (or stdin with -)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "language",
				Aliases: []string{"l"},
				Usage:   "Language hint (go, python, javascript)",
				Value:   "go",
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Review type",
				Value:   string(models.ReviewTypePainAnalysis),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the result as JSON",
			},
		},
		ArgsUsage: "FILE",
		Action:    runAnalyze,
	}
}

func runAnalyze(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: source file")
	}

	source, err := readSource(c.Args().Get(0))
	if err != nil {
		return err
	}

	reviewType, err := models.ParseReviewType(c.String("type"))
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	}()

	req := models.ReviewRequest{
		ID:           uuid.NewString(),
		SourceText:   string(source),
		LanguageHint: c.String("language"),
		RequestedBy:  "cli",
		Type:         reviewType,
		SubmittedAt:  time.Now(),
	}
	result := eng.Analyze(context.Background(), req)

	if c.Bool("json") {
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	printResult(result)
	return nil
}

func readSource(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	return source, nil
}

func printResult(result *models.ReviewResult) {
	fmt.Printf("Final score: %d/100 (%s)\n", result.FinalScore, result.Tier)
	if result.Blessed {
		fmt.Println("Blessed: yes")
	}
	if result.FailureReason != "" {
		fmt.Printf("Failure: %s\n", result.FailureReason)
	}
	if len(result.Violations) == 0 {
		fmt.Println("No violations detected")
		return
	}
	fmt.Printf("%d violation(s):\n", len(result.Violations))
	for _, v := range result.Violations {
		fmt.Printf("  [%s] -%d at %s: %s\n", v.Kind, v.Weight, v.Location, v.Message)
	}
}

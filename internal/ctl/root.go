// Package ctl implements the floorplanctl command tree.
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"floorplan/internal/apiclient"
	"floorplan/internal/domain"
)

// Config holds the persistent flags shared by every subcommand.
type Config struct {
	APIURL  string
	Timeout time.Duration
	Poll    time.Duration
}

// DefaultConfig reads FLOORPLAN_API_URL, falling back to a local API.
func DefaultConfig() *Config {
	url := strings.TrimSpace(os.Getenv("FLOORPLAN_API_URL"))
	if url == "" {
		url = "http://localhost:8000"
	}
	return &Config{APIURL: url, Timeout: 10 * time.Minute, Poll: 2 * time.Second}
}

// Run executes the command tree with args, writing results to out.
func Run(ctx context.Context, args []string, cfg *Config, out io.Writer) error {
	root := buildRootCmd(cfg, out)
	root.SetArgs(args)
	root.SetOut(out)
	return root.ExecuteContext(ctx)
}

func buildRootCmd(cfg *Config, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "floorplanctl",
		Short:         "Submit and inspect floor plan generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "API base URL (defaults FLOORPLAN_API_URL)")
	root.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Overall deadline for the command")
	root.PersistentFlags().DurationVar(&cfg.Poll, "poll", cfg.Poll, "Status polling interval for --wait and wait")

	client := func() *apiclient.Client {
		return apiclient.New(apiclient.Options{BaseURL: cfg.APIURL, PollInterval: cfg.Poll})
	}
	withTimeout := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), cfg.Timeout)
	}

	root.AddCommand(
		submitCmd(client, withTimeout, out),
		statusCmd(client, withTimeout, out),
		waitCmd(client, withTimeout, out),
		enhanceCmd(client, withTimeout, out),
		credentialsCmd(withTimeout, out),
	)
	return root
}

type clientFunc func() *apiclient.Client

type timeoutFunc func(cmd *cobra.Command) (context.Context, context.CancelFunc)

func submitCmd(client clientFunc, withTimeout timeoutFunc, out io.Writer) *cobra.Command {
	var (
		req    apiclient.GenerateRequest
		seed   int64
		wait   bool
		output string
	)
	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Queue a floor plan generation job",
		Example: "  floorplanctl submit --sqft 1200 --bedrooms 3 --bathrooms 2 --garages 1 --wait --output plan.png",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			c := client()
			resp, err := c.Generate(ctx, req)
			if err != nil {
				return err
			}
			if !wait {
				return printJSON(out, resp)
			}
			return waitAndSave(ctx, c, resp.JobID, output, out)
		},
	}
	f := cmd.Flags()
	f.IntVar(&req.SquareFeet, "sqft", 0, "Floor area in square feet (required)")
	f.IntVar(&req.Garages, "garages", 0, "Garage capacity in cars")
	f.IntVar(&req.Bedrooms, "bedrooms", 0, "Number of bedrooms")
	f.IntVar(&req.Bathrooms, "bathrooms", 0, "Number of bathrooms")
	f.StringVar(&req.Prompt, "prompt", "", "Additional prompt detail")
	f.StringVar(&req.NegativePrompt, "negative-prompt", "", "Additional negative prompt")
	f.IntVar(&req.Height, "height", 0, "Image height (server default 512)")
	f.IntVar(&req.Width, "width", 0, "Image width (server default 512)")
	f.IntVar(&req.Steps, "steps", 0, "Inference steps (server default 50)")
	f.Int64Var(&seed, "seed", 0, "Seed for reproducible output")
	f.Float64Var(&req.GuidanceScale, "guidance-scale", 0, "Guidance scale (server default 7.5)")
	f.StringVar(&req.ModelID, "model", "", "Override the base model id")
	f.StringVar(&req.AdapterPath, "lora", "", "Override the adapter weights path")
	f.BoolVar(&wait, "wait", false, "Poll until the job finishes")
	f.StringVar(&output, "output", "", "With --wait, write the generated PNG here")
	_ = cmd.MarkFlagRequired("sqft")
	return cmd
}

func statusCmd(client clientFunc, withTimeout timeoutFunc, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			view, err := client().Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(out, view)
		},
	}
}

func waitCmd(client clientFunc, withTimeout timeoutFunc, out io.Writer) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "wait <job-id>",
		Short: "Block until a job finishes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			return waitAndSave(ctx, client(), args[0], output, out)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Write the generated PNG here")
	return cmd
}

func enhanceCmd(client clientFunc, withTimeout timeoutFunc, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "enhance <input-image> <output.png>",
		Short: "Label the rooms of an existing plan image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			png, err := client().Enhance(ctx, args[0], "", data)
			if err != nil {
				if apiclient.IsUnavailable(err) {
					return fmt.Errorf("annotation service unavailable: %w", err)
				}
				return err
			}
			if err := os.WriteFile(args[1], png, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s (%d bytes)\n", args[1], len(png))
			return nil
		},
	}
}

func waitAndSave(ctx context.Context, c *apiclient.Client, jobID, output string, out io.Writer) error {
	view, err := c.Wait(ctx, jobID)
	if err != nil {
		return err
	}
	if err := printJSON(out, view); err != nil {
		return err
	}
	switch view.Status {
	case domain.JobStatusFailed:
		return fmt.Errorf("job %s failed", jobID)
	case domain.JobStatusUnknown:
		return fmt.Errorf("job %s is unknown", jobID)
	}
	if output == "" {
		return nil
	}
	data, err := c.Artifact(ctx, jobID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d bytes)\n", output, len(data))
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lassestilvang/code-migration-autopilot/internal/render"
	"github.com/lassestilvang/code-migration-autopilot/pkg/client"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
)

var repoCmd = &cobra.Command{
	Use:   "repo <github-url>",
	Short: "Migrate a GitHub repository into a new project",
	Args:  cobra.ExactArgs(1),
	RunE:  runRepo,
}

func init() {
	f := repoCmd.Flags()
	f.String("target", "", "target stack (defaults to the analysis recommendation)")
	f.BoolP("yes", "y", false, "start conversion without asking after planning")
	f.Bool("export", false, "export the generated project when the run completes")
	f.String("prefix", "", "export prefix (defaults to the run ID)")
	f.Bool("overwrite", false, "overwrite existing exported files")
	f.Bool("allow-sample", false, "fall back to a built-in sample repository when GitHub rate limits")
	viper.BindPFlag("allow_sample", f.Lookup("allow-sample"))
}

func newRenderer() *render.Renderer {
	r := render.New(viper.GetBool("plain"))
	r.SetTheme(viper.GetString("theme"))
	return r
}

func runRepo(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, shutdown, err := connect(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	target, _ := cmd.Flags().GetString("target")
	autoConfirm, _ := cmd.Flags().GetBool("yes")

	run, err := c.StartRepo(ctx, protocol.RepoRequest{URL: args[0], TargetLang: target})
	if err != nil {
		return err
	}

	r := newRenderer()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", r.Title("Run "+run.ID), r.Dim(args[0]))

	fl := newFollower(c, r, cmd.InOrStdin(), out)
	fl.autoConfirm = autoConfirm
	final, err := fl.follow(ctx, run.ID)
	if err != nil {
		return err
	}

	if final.Status == models.AgentError && final.RepoAnalysis == nil {
		return fmt.Errorf("run %s failed: %s", final.ID, final.Error)
	}

	if final.UsedSample {
		fmt.Fprintln(out, r.Dim("Showing the built-in sample repository."))
	}
	result, err := c.Tree(ctx, run.ID, "target")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, r.Title("Generated project"))
	if err := r.Tree(out, result.Roots, true); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d done, %d failed\n",
		final.FileCounts[string(models.StatusDone)],
		final.FileCounts[string(models.StatusError)])

	if final.Status != models.AgentCompleted {
		return fmt.Errorf("run %s ended in %s: %s", final.ID, final.Status, final.Error)
	}

	if ok, _ := cmd.Flags().GetBool("export"); ok {
		return exportRun(ctx, cmd, c, final.ID)
	}
	return nil
}

func exportRun(ctx context.Context, cmd *cobra.Command, c *client.Client, id string) error {
	prefix, _ := cmd.Flags().GetString("prefix")
	overwrite, _ := cmd.Flags().GetBool("overwrite")

	res, err := c.Export(ctx, id, protocol.ExportRequest{Prefix: prefix, Overwrite: overwrite})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d files (%d bytes) to %s:%s\n", res.Files, res.Bytes, res.Backend, res.Prefix)
	return nil
}

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/lassestilvang/code-migration-autopilot/internal/app"
	"github.com/lassestilvang/code-migration-autopilot/internal/workflow"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
)

var snippetCmd = &cobra.Command{
	Use:   "snippet [file|-]",
	Short: "Convert a single code snippet",
	Long: `Convert a code snippet read from a file, or from stdin when the argument is "-".
Without an argument the built-in jQuery counter example is converted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnippet,
}

func init() {
	f := snippetCmd.Flags()
	f.String("from", workflow.DefaultSourceLang, "source language id")
	f.String("to", workflow.DefaultTargetLang, "target language id")
	f.StringP("output", "o", "", "write the converted code to a file")
	f.BoolP("clipboard", "c", false, "copy the converted code to the clipboard")
	f.Bool("paste", false, "read the snippet from the clipboard")
}

func readSnippet(cmd *cobra.Command, args []string) (string, error) {
	if paste, _ := cmd.Flags().GetBool("paste"); paste {
		return clipboard.ReadAll()
	}
	if len(args) == 0 {
		return workflow.DefaultSnippet, nil
	}
	if args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read snippet: %w", err)
	}
	return string(data), nil
}

func runSnippet(cmd *cobra.Command, args []string) error {
	code, err := readSnippet(cmd, args)
	if err != nil {
		return err
	}
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")

	catalog, err := app.LoadCatalog(localConfig())
	if err != nil {
		return err
	}
	for _, id := range []string{from, to} {
		if _, ok := catalog.Lookup(id); !ok {
			return fmt.Errorf("unknown language %q, see 'migrate languages'", id)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, shutdown, err := connect(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	run, err := c.StartSnippet(ctx, protocol.SnippetRequest{SourceLang: from, TargetLang: to, SourceCode: code})
	if err != nil {
		return err
	}

	r := newRenderer()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s → %s\n", r.Title("Run "+run.ID), catalog.Label(from), catalog.Label(to))

	final, err := newFollower(c, r, cmd.InOrStdin(), out).follow(ctx, run.ID)
	if err != nil {
		return err
	}
	printAnalysis(out, r, final.Analysis)
	printVerification(out, r, final.Verification)

	if final.Status != models.AgentCompleted {
		return fmt.Errorf("run %s ended in %s: %s", final.ID, final.Status, final.Error)
	}

	fmt.Fprintln(out, r.Title("Converted code"))
	lang, _ := catalog.Lookup(to)
	if err := r.Code(out, final.TargetCode, lang.Lexer); err != nil {
		return err
	}
	fmt.Fprintln(out)

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		if err := os.WriteFile(path, []byte(final.TargetCode), 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Fprintf(out, "Written to %s\n", path)
	}
	if copyOut, _ := cmd.Flags().GetBool("clipboard"); copyOut {
		if err := clipboard.WriteAll(final.TargetCode); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to clipboard: %v\n", err)
		} else {
			fmt.Fprintln(out, "Output copied to clipboard.")
		}
	}
	return nil
}

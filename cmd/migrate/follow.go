package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lassestilvang/code-migration-autopilot/internal/events"
	"github.com/lassestilvang/code-migration-autopilot/internal/render"
	"github.com/lassestilvang/code-migration-autopilot/pkg/client"
	"github.com/lassestilvang/code-migration-autopilot/pkg/models"
	"github.com/lassestilvang/code-migration-autopilot/pkg/protocol"
)

// follower prints a run's progress until it finishes.
type follower struct {
	c   *client.Client
	r   *render.Renderer
	out io.Writer
	in  *bufio.Reader

	// autoConfirm answers the planning prompt without asking.
	autoConfirm bool

	printed   int
	confirmed bool
}

func newFollower(c *client.Client, r *render.Renderer, in io.Reader, out io.Writer) *follower {
	return &follower{c: c, r: r, in: bufio.NewReader(in), out: out}
}

// follow streams the events of run id and returns its final snapshot.
func (f *follower) follow(ctx context.Context, id string) (*protocol.RunResponse, error) {
	stream, errc := f.c.Watch(ctx, id)
	for e := range stream {
		switch e.Type {
		case events.EventFile:
			if s := models.Status(e.Status); s == models.StatusDone || s == models.StatusError {
				fmt.Fprintf(f.out, "  %s %s\n", f.r.StatusBadge(s), e.Path)
			}
		case events.EventConfirm:
			if err := f.flushLogs(ctx, id); err != nil {
				return nil, err
			}
			if err := f.handleConfirm(ctx, id); err != nil {
				return nil, err
			}
		default:
			if err := f.flushLogs(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.flushLogs(ctx, id); err != nil {
		return nil, err
	}
	return f.c.Run(ctx, id)
}

// flushLogs prints the log entries not shown yet.
func (f *follower) flushLogs(ctx context.Context, id string) error {
	resp, err := f.c.Logs(ctx, id)
	if err != nil {
		return err
	}
	if f.printed > len(resp.Logs) {
		f.printed = 0
	}
	for _, e := range resp.Logs[f.printed:] {
		fmt.Fprintln(f.out, f.r.Log(e))
	}
	f.printed = len(resp.Logs)
	return nil
}

func (f *follower) handleConfirm(ctx context.Context, id string) error {
	if f.confirmed {
		return nil
	}
	f.confirmed = true

	run, err := f.c.Run(ctx, id)
	if err != nil {
		return err
	}
	printRepoAnalysis(f.out, f.r, run.RepoAnalysis)

	plan, err := f.c.Tree(ctx, id, "target")
	if err != nil {
		return err
	}
	fmt.Fprintln(f.out, f.r.Title("Planned structure"))
	if err := f.r.Tree(f.out, plan.Roots, false); err != nil {
		return err
	}

	if !f.autoConfirm && !f.ask("Proceed with conversion? [Y/n] ") {
		fmt.Fprintln(f.out, "Cancelling run.")
		_, err := f.c.Cancel(ctx, id)
		return err
	}
	_, err = f.c.Confirm(ctx, id)
	return err
}

func (f *follower) ask(prompt string) bool {
	fmt.Fprint(f.out, prompt)
	line, err := f.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	}
	return false
}

func printRepoAnalysis(w io.Writer, r *render.Renderer, a *models.RepoAnalysis) {
	if a == nil {
		return
	}
	fmt.Fprintln(w, r.Title("Repository analysis"))
	fmt.Fprintf(w, "Framework:   %s\n", a.DetectedFramework)
	fmt.Fprintf(w, "Target:      %s\n", a.RecommendedTarget)
	fmt.Fprintf(w, "Complexity:  %s\n", a.Complexity)
	fmt.Fprintf(w, "Summary:     %s\n", a.Summary)
	if a.ArchitectureDescription != "" {
		fmt.Fprintf(w, "Architecture: %s\n", a.ArchitectureDescription)
	}
	printList(w, r, "Risks", a.Risks)
}

func printAnalysis(w io.Writer, r *render.Renderer, a *models.Analysis) {
	if a == nil {
		return
	}
	fmt.Fprintln(w, r.Title("Analysis"))
	fmt.Fprintf(w, "Complexity:  %s\n", a.Complexity)
	fmt.Fprintf(w, "Summary:     %s\n", a.Summary)
	printList(w, r, "Dependencies", a.Dependencies)
	printList(w, r, "Patterns", a.Patterns)
	printList(w, r, "Risks", a.Risks)
}

func printVerification(w io.Writer, r *render.Renderer, v *models.Verification) {
	if v == nil {
		return
	}
	fmt.Fprintln(w, r.Title("Verification"))
	if v.Passed {
		fmt.Fprintln(w, "Passed:      yes")
	} else {
		fmt.Fprintln(w, "Passed:      no")
	}
	printList(w, r, "Issues", v.Issues)
}

func printList(w io.Writer, r *render.Renderer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", label)
	for _, it := range items {
		fmt.Fprintf(w, "  %s %s\n", r.Dim("-"), it)
	}
}

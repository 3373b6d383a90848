package migration

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
)

// CLI prints the outcome of migrator operations for the migrate subcommand.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI creates a CLI writing to out.
func NewCLI(migrator Migrator, out io.Writer) *CLI {
	return &CLI{migrator: migrator, output: out}
}

type cliCommand func(c *CLI, ctx context.Context) error

var cliCommands = map[string]cliCommand{
	"up":       (*CLI).up,
	"down":     (*CLI).down,
	"down-all": (*CLI).downAll,
	"version":  (*CLI).version,
	"status":   (*CLI).status,
	"info":     (*CLI).info,
}

// Commands lists the names Run accepts.
func Commands() []string {
	names := make([]string, 0, len(cliCommands))
	for name := range cliCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one migrate command by name.
func (c *CLI) Run(ctx context.Context, command string) error {
	cmd, ok := cliCommands[command]
	if !ok {
		return fmt.Errorf("unknown migrate command %q (want one of %s)", command, strings.Join(Commands(), ", "))
	}
	return cmd(c, ctx)
}

func (c *CLI) up(ctx context.Context) error {
	fmt.Fprintln(c.output, "Applying results schema migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.reportVersion(ctx, "Migrations complete.")
}

func (c *CLI) down(ctx context.Context) error {
	fmt.Fprintln(c.output, "Reverting the latest results schema migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return c.reportVersion(ctx, "Rollback complete.")
}

func (c *CLI) downAll(ctx context.Context) error {
	fmt.Fprintln(c.output, "Reverting every results schema migration...")
	if err := c.migrator.DownAll(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	fmt.Fprintln(c.output, "Results schema removed.")
	return nil
}

func (c *CLI) version(ctx context.Context) error {
	v, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	switch {
	case v == 0:
		fmt.Fprintln(c.output, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.output, "Current version: %d (dirty)\n", v)
	default:
		fmt.Fprintf(c.output, "Current version: %d\n", v)
	}
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	tw := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			applied++
			state = "applied"
		}
		if s.Dirty {
			state = "dirty"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) info(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	tw := tabwriter.NewWriter(c.output, 0, 0, 1, ' ', 0)
	fmt.Fprintln(tw, "Results schema:")
	fmt.Fprintf(tw, "  Current Version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(tw, "  Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(tw, "  Total Migrations:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(tw, "  Applied Migrations:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(tw, "  Pending Migrations:\t%d\n", info.PendingMigrations)
	return tw.Flush()
}

func (c *CLI) reportVersion(ctx context.Context, prefix string) error {
	v, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%s Current version: %d\n", prefix, v)
	return nil
}

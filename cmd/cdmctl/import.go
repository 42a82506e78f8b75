package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		quiet          bool
		showRejections bool
		dryRun         bool
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Stream a CDM export into the event store",
		Long: "Import reads a tab, semicolon or comma delimited CDM export (optionally gzip, zstd or lz4 compressed), " +
			"classifies every row under the active policy, and writes events in batches. Use - to read stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				r    io.Reader
				size int64
			)
			if args[0] == "-" {
				r = cmd.InOrStdin()
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				if info, err := f.Stat(); err == nil {
					size = info.Size()
				}
				r = f
			}

			if dryRun {
				return preview(cmd, a, r, size, showRejections)
			}

			errOut := cmd.ErrOrStderr()
			onProgress := func(pct int) {
				if !quiet {
					fmt.Fprintf(errOut, "\rimporting %3d%%", pct)
				}
			}

			res, err := a.service.Import(ctx(cmd), r, size, onProgress)
			if !quiet {
				fmt.Fprintln(errOut)
			}
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "import %s\n", res.ImportID)
			fmt.Fprintf(out, "  imported: %d\n", res.Imported)
			fmt.Fprintf(out, "  rejected: %d\n", res.RejectedRows)
			fmt.Fprintf(out, "  batches:  %d\n", res.Batches)
			fmt.Fprintf(out, "  bytes:    %d\n", res.BytesRead)
			fmt.Fprintf(out, "  blake3:   %s\n", res.Digest)
			fmt.Fprintf(out, "  duration: %s\n", res.Duration)
			if showRejections {
				printRejections(out, res.Rejections, res.RejectedRows)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	cmd.Flags().BoolVar(&showRejections, "show-rejections", false, "List skipped rows with line numbers")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Analyze the file and report what would change without writing")
	return cmd
}

func preview(cmd *cobra.Command, a *app, r io.Reader, size int64, showRejections bool) error {
	res, err := a.service.PreviewImport(ctx(cmd), r, size)
	if err != nil {
		return userError(err)
	}

	out := cmd.OutOrStdout()
	sum := res.Summary
	fmt.Fprintln(out, "dry run, nothing written")
	fmt.Fprintf(out, "  rows:       %d\n", sum.TotalRows)
	fmt.Fprintf(out, "  new:        %d\n", sum.NewRows)
	fmt.Fprintf(out, "  updates:    %d\n", sum.UpdateRows)
	fmt.Fprintf(out, "  duplicates: %d\n", sum.DuplicateInFile)
	fmt.Fprintf(out, "  rejected:   %d\n", sum.RejectedRows)
	for _, l := range core.Lanes() {
		fmt.Fprintf(out, "  %-12s %d\n", l, sum.Lanes[l])
	}
	for _, d := range res.UpdateDiffs {
		fmt.Fprintf(out, "  update %s: %s -> %s (%s)\n", d.ID, d.CurrentLane, d.NewLane, strings.Join(d.Changed, ", "))
	}
	for _, d := range res.DuplicateSamples {
		fmt.Fprintf(out, "  duplicate %s x%d\n", d.ID, d.Count)
	}
	if showRejections {
		printRejections(out, res.Rejections, sum.RejectedRows)
	}
	return nil
}

func printRejections(out io.Writer, rejections []core.RowRejection, total int) {
	for _, rej := range rejections {
		fmt.Fprintf(out, "  line %d: %s\n", rej.Line, rej.Reason)
	}
	if hidden := total - len(rejections); hidden > 0 {
		fmt.Fprintf(out, "  ... %d more\n", hidden)
	}
}

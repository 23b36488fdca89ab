package main

import (
	"fmt"
	"io"
	"os"

	"dmsp/internal/fasta"

	"github.com/spf13/cobra"
)

func newFastaCmd(stderr io.Writer, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "fasta <predictions.tsv> <out.fasta>",
		Short: "Write the detectable peptides of a predictions file as FASTA, one record per accession",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logLevel, _ := cmd.Flags().GetString("log-level")
			logger, _ := newLogger(stderr, *verbose, logLevel)

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()
			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			sum, err := fasta.Export(in, out)
			if cerr := out.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("export %s: %w", args[0], err)
			}
			logger.Info("wrote fasta", "path", args[1], "rows", sum.Rows, "detectable", sum.Peptides, "records", sum.Records)
			return nil
		},
	}
}

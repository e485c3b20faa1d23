package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/openalex-client/pkg/collab"
	"github.com/Sternrassler/openalex-client/pkg/openalex"
	"github.com/Sternrassler/openalex-client/pkg/service"
)

var collabCmd = &cobra.Command{
	Use:   "collab AUTHOR_ID...",
	Short: "Compute the collaboration matrix of the given authors",
	Long: `collab sweeps OpenAlex for works shared by the given authors and prints
the collaboration matrix as JSON. IDs may be short (A123) or full URLs.

With --from-works the arguments are work IDs; their authors are resolved
first and the matrix is computed over them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fromWorks, _ := cmd.Flags().GetBool("from-works")

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		return runCollab(cmd, a.service, args, fromWorks)
	},
}

func init() {
	collabCmd.Flags().Bool("from-works", false, "arguments are work IDs whose authors are swept")
	rootCmd.AddCommand(collabCmd)
}

// collabRunner is the part of service.Service the collab command uses.
type collabRunner interface {
	AuthorsForWorks(ctx context.Context, workIDs []openalex.ID) (*service.AuthorsResult, error)
	CollaborationMatrix(ctx context.Context, authorIDs []openalex.ID) (*collab.Matrix, error)
}

func runCollab(cmd *cobra.Command, svc collabRunner, args []string, fromWorks bool) error {
	ctx := cmd.Context()

	var authors []openalex.ID
	if fromWorks {
		works, err := openalex.ParseIDs(args, openalex.NamespaceWork)
		if err != nil {
			return err
		}
		res, err := svc.AuthorsForWorks(ctx, works)
		if err != nil {
			return fmt.Errorf("resolve authors: %w", err)
		}
		if res.Partial() {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d work batches failed; author list is incomplete\n", len(res.FailedBatches))
		}
		authors = res.AuthorIDs()
	} else {
		ids, err := openalex.ParseIDs(args, openalex.NamespaceAuthor)
		if err != nil {
			return err
		}
		authors = ids
	}

	m, err := svc.CollaborationMatrix(ctx, authors)
	if err != nil {
		return err
	}
	if m.Partial() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d batch pairs failed; counts may be incomplete\n", len(m.Failures))
	}
	return writeIndented(cmd.OutOrStdout(), m)
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

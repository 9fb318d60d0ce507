package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nidhogg/nora/internal/rag"
	"github.com/nidhogg/nora/internal/ui"
)

func newIndexCmd(o *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a project for /find and search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			idx, err := a.indexer.IndexProject(args[0], name)
			if err != nil {
				return err
			}
			if err := a.indexer.Save(idx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.Success("indexed %s: %d files, %d skipped", idx.ProjectName, idx.TotalFiles, idx.SkippedFiles))

			langs := make([]string, 0, len(idx.Languages))
			for l := range idx.Languages {
				langs = append(langs, l)
			}
			sort.Slice(langs, func(i, j int) bool { return idx.Languages[langs[i]] > idx.Languages[langs[j]] })
			rows := make([][]string, 0, len(langs))
			for _, l := range langs {
				rows = append(rows, []string{l, strconv.Itoa(idx.Languages[l])})
			}
			fmt.Fprint(out, ui.Table([]string{"LANGUAGE", "FILES"}, rows))

			if a.rag != nil {
				n := a.rag.AddProject(cmd.Context(), idx)
				fmt.Fprintln(out, ui.Info("embedded %d files for semantic search", n))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name (default: directory name)")
	return cmd
}

func newSearchCmd(o *options) *cobra.Command {
	var (
		maxResults int
		semantic   bool
	)
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search the project index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), o, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			if semantic {
				if a.rag == nil {
					return errors.New("semantic search needs qdrant configured")
				}
				hits, err := a.rag.Search(cmd.Context(), rag.CollFiles, query, maxResults)
				if err != nil {
					return err
				}
				if len(hits) == 0 {
					fmt.Fprintln(out, ui.Muted("No matches."))
					return nil
				}
				rows := make([][]string, len(hits))
				for i, h := range hits {
					rows[i] = []string{fmt.Sprintf("%.2f", h.Score), h.Metadata["path"], h.Metadata["language"]}
				}
				fmt.Fprint(out, ui.Table([]string{"SCORE", "PATH", "LANGUAGE"}, rows))
				return nil
			}

			results, err := a.indexer.Search(query, maxResults)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(out, ui.Muted("No matches. Run `nora index <path>` first if the project is not indexed."))
				return nil
			}
			rows := make([][]string, len(results))
			for i, r := range results {
				rows[i] = []string{strconv.Itoa(r.RelevanceScore), r.RelativePath, r.Language}
			}
			fmt.Fprint(out, ui.Table([]string{"SCORE", "PATH", "LANGUAGE"}, rows))
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxResults, "max", "n", 10, "maximum results")
	cmd.Flags().BoolVar(&semantic, "semantic", false, "search embeddings instead of the keyword index")
	return cmd
}

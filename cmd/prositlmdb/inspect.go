package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/ajitpratap0/prositlmdb/pkg/compression"
	"github.com/ajitpratap0/prositlmdb/pkg/store"
)

type inspectedRecord struct {
	Index  int            `json:"index"`
	Record map[string]any `json:"record"`
}

func newInspectCmd(a *app) *cobra.Command {
	var indices []int
	var all bool
	var output string
	var indent bool

	cmd := &cobra.Command{
		Use:   "inspect <store-dir>",
		Short: "Print the record count and selected records of a store",
		Long: `Print the record count of a store and, with --index or --all, its records as
JSON lines. With --output the records go to a file, compressed when its extension
names an algorithm (records.jsonl.zst).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			st, err := store.Open(args[0], store.Options{Logger: a.log})
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Count()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "num_examples: %d\n", n)
			if !all && len(indices) == 0 {
				return nil
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output) //nolint:gosec // G304: path comes from the operator
				if err != nil {
					return err
				}
				defer f.Close()
				buf := bufio.NewWriter(f)
				defer buf.Flush()
				cw, err := compression.NewWriter(buf, compression.FromPath(output), compression.Default)
				if err != nil {
					return err
				}
				defer func() {
					if closeErr := cw.Close(); closeErr != nil && err == nil {
						err = closeErr
					}
				}()
				w = cw
			}

			emit := func(i int, rec map[string]any) error {
				line, err := json.Marshal(inspectedRecord{Index: i, Record: rec})
				if err != nil {
					return err
				}
				if indent {
					line = pretty.Pretty(line)
				} else {
					line = append(line, '\n')
				}
				_, err = w.Write(line)
				return err
			}
			if all {
				return st.ForEach(emit)
			}
			for _, i := range indices {
				rec, err := st.Get(i)
				if err != nil {
					return err
				}
				if err := emit(i, rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&indices, "index", nil, "Record indices to print")
	cmd.Flags().BoolVar(&all, "all", false, "Print every record in index order")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write records to a file instead of stdout")
	cmd.Flags().BoolVar(&indent, "pretty", false, "Indent each record")
	return cmd
}

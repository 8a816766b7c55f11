package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/novaxell/dispenser/internal/config"
	"github.com/novaxell/dispenser/internal/service"
	"github.com/novaxell/dispenser/internal/stock"
)

// stockBackend is a pool that also accepts bulk imports.
type stockBackend interface {
	service.StockPool
	Import(ctx context.Context, service string, lines []string) (int, error)
}

// openStock opens the configured pool backend. The returned func releases it.
func openStock(opts *config.Options) (stockBackend, func(), error) {
	switch opts.StockBackend {
	case config.StockSQLite:
		p, err := stock.OpenSQLitePool(opts.StockDB)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		p, err := stock.NewFilePool(opts.StockDir)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
}

func stockCmd(opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Inspect and fill the credential pools",
	}
	cmd.AddCommand(stockCountCmd(opts), stockImportCmd(opts))
	return cmd
}

func stockCountCmd(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "count [service...]",
		Short: "Print the number of available lines per service",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, closePool, err := openStock(opts)
			if err != nil {
				return err
			}
			defer closePool()
			return countStock(cmd.Context(), cmd.OutOrStdout(), pool, args)
		},
	}
}

func countStock(ctx context.Context, out io.Writer, pool service.StockPool, services []string) error {
	if len(services) == 0 {
		var err error
		if services, err = pool.Services(ctx); err != nil {
			return err
		}
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tAVAILABLE")
	for _, s := range services {
		n, err := pool.Size(ctx, s)
		if err != nil {
			return fmt.Errorf("count %s: %w", s, err)
		}
		fmt.Fprintf(tw, "%s\t%d\n", s, n)
	}
	return tw.Flush()
}

func stockImportCmd(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <service> <file>",
		Short: "Append the lines of file to a service pool (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, closePool, err := openStock(opts)
			if err != nil {
				return err
			}
			defer closePool()

			var in io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return importStock(cmd.Context(), cmd.OutOrStdout(), pool, args[0], in)
		},
	}
}

func importStock(ctx context.Context, out io.Writer, pool stockBackend, service string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	n, err := pool.Import(ctx, service, stock.SplitLines(string(data)))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d lines into %s\n", n, service)
	return nil
}

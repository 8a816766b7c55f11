package main

import (
	"cmp"
	"context"
	"crypto/cipher"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/novaxell/dispenser/internal/client/storage"
)

var (
	version   string
	buildDate string
)

const usage = `Usage: dispenser-client [flags] <command> [args]

Commands:
  register              create an account and save its client certificate
  login                 check the certificate and touch last activity
  services              list services and available stock
  generate <service>    take one credential and keep it in the wallet
  history [limit]       show past generations
  stats                 show usage statistics
  wallet                list credentials kept locally
  show <id>             print one wallet credential
  delete <id>           remove a credential from the wallet
`

type options struct {
	baseURL string
	certDir string
	caFile  string
	wallet  string
	login   string
}

// main parses command-line flags and dispatches to the requested command.
func main() {
	var (
		opts    options
		showVer bool
	)
	fs := pflag.NewFlagSet("dispenser-client", pflag.ExitOnError)
	fs.StringVar(&opts.baseURL, "url", "https://localhost:8080", "server base URL")
	fs.StringVar(&opts.certDir, "cert-dir", ".", "directory holding client.crt and client.key")
	fs.StringVar(&opts.caFile, "ca", "certs/ca.crt", "path to CA cert")
	fs.StringVar(&opts.wallet, "wallet", storage.DefaultWalletFile, "path to the local wallet")
	fs.StringVar(&opts.login, "login", "", "username for registration")
	fs.BoolVar(&showVer, "version", false, "show build version and date")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nFlags:\n", fs.FlagUsages())
	}
	_ = fs.Parse(os.Args[1:])

	if showVer {
		fmt.Printf("Dispenser Client\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Stdout, opts, fs.Args()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, out io.Writer, opts options, args []string) error {
	cmd, args := args[0], args[1:]

	if cmd == "register" {
		if opts.login == "" {
			return fmt.Errorf("please provide --login=username")
		}
		if err := storage.Register(opts.baseURL, opts.login, opts.caFile, opts.certDir); err != nil {
			return err
		}
		fmt.Fprintln(out, "Registration successful. Certificate and key saved.")
		return nil
	}

	certFile := filepath.Join(opts.certDir, storage.CertFileName)
	keyFile := filepath.Join(opts.certDir, storage.KeyFileName)

	switch cmd {
	case "wallet", "show", "delete":
		return walletCommand(out, opts.wallet, keyFile, cmd, args)
	}

	client, err := storage.LoadClientCertificate(certFile, keyFile, opts.caFile)
	if err != nil {
		return err
	}
	api := &storage.API{HTTP: client, BaseURL: opts.baseURL}

	switch cmd {
	case "login":
		user, err := api.Login(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Logged in as %s\n", user)
	case "services":
		services, err := api.Services(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SERVICE\tSTOCK")
		for _, s := range services {
			fmt.Fprintf(tw, "%s\t%d\n", s.Name, s.Stock)
		}
		return tw.Flush()
	case "generate":
		if len(args) != 1 {
			return fmt.Errorf("usage: generate <service>")
		}
		return generate(ctx, out, api, opts.wallet, keyFile, args[0])
	case "history":
		limit := 0
		if len(args) > 0 {
			if _, err := fmt.Sscan(args[0], &limit); err != nil {
				return fmt.Errorf("limit must be an integer: %w", err)
			}
		}
		history, err := api.History(ctx, limit)
		if err != nil {
			return err
		}
		for _, h := range history {
			fmt.Fprintf(out, "%s  %-12s %s  (%s)\n", h.CreatedAt.Format("2006-01-02 15:04"), h.Service, storage.FormatAccount(h.Account), h.ID)
		}
	case "stats":
		stats, err := api.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Total generations: %d\n", stats.TotalGenerations)
		fmt.Fprintf(out, "Services used: %s\n", strings.Join(stats.FavoriteServices, ", "))
		if !stats.LastActivity.IsZero() {
			fmt.Fprintf(out, "Last activity: %s\n", stats.LastActivity.Format("2006-01-02 15:04:05"))
		}
		for _, g := range stats.RecentGenerations {
			fmt.Fprintf(out, "  %s  %s\n", g.CreatedAt.Format("2006-01-02 15:04"), g.Service)
		}
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func generate(ctx context.Context, out io.Writer, api *storage.API, walletPath, keyFile, service string) error {
	g, err := api.Generate(ctx, service)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", g.Service, storage.FormatAccount(g.Account))
	if !g.Recorded {
		fmt.Fprintln(out, "warning: the server could not record this generation; keep it safe")
	}

	w, aead, err := openWallet(walletPath, keyFile)
	if err != nil {
		return fmt.Errorf("credential received but wallet unavailable: %w", err)
	}
	if _, err := w.Add(g, aead); err != nil {
		return err
	}
	return w.Save()
}

func walletCommand(out io.Writer, walletPath, keyFile, cmd string, args []string) error {
	w, aead, err := openWallet(walletPath, keyFile)
	if err != nil {
		return err
	}

	switch cmd {
	case "wallet":
		w.List(out, aead)
		return nil
	case "show":
		if len(args) != 1 {
			return fmt.Errorf("usage: show <id>")
		}
		e, acc, err := w.Get(args[0], aead)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", e.Service, storage.FormatAccount(acc))
		return nil
	default:
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <id>")
		}
		if !w.Delete(args[0]) {
			return fmt.Errorf("credential %s not found", args[0])
		}
		fmt.Fprintln(out, "Credential deleted")
		return w.Save()
	}
}

func openWallet(walletPath, keyFile string) (*storage.Wallet, cipher.AEAD, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read client key: %w", err)
	}
	aead, err := storage.NewAEADFromKeyPEM(keyPEM)
	if err != nil {
		return nil, nil, err
	}
	w, err := storage.LoadWallet(walletPath)
	if err != nil {
		return nil, nil, err
	}
	return w, aead, nil
}

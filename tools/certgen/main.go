// Package main bootstraps the TLS material of a dispenser deployment: a CA
// used to sign client identities and a server certificate, written under
// the certs directory.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/novaxell/dispenser/internal/certgen"
)

func main() {
	dir := pflag.String("dir", "certs", "output directory")
	hosts := pflag.StringSlice("host", []string{"localhost", "127.0.0.1"}, "server certificate hosts")
	client := pflag.String("client", "", "also issue a client certificate for this user id")
	force := pflag.Bool("force", false, "replace an existing CA")
	pflag.Parse()

	if err := run(*dir, *hosts, *client, *force); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("certificates written to %s\n", *dir)
}

// run creates ca.crt/ca.key unless they exist (or force is set), then issues
// server.crt/server.key and optionally client.crt/client.key.
func run(dir string, hosts []string, client string, force bool) error {
	caCert, caKey := filepath.Join(dir, "ca.crt"), filepath.Join(dir, "ca.key")

	var ca *certgen.Authority
	if _, err := os.Stat(caCert); err == nil && !force {
		if ca, err = certgen.LoadAuthority(caCert, caKey); err != nil {
			return err
		}
	} else {
		if ca, err = certgen.NewAuthority("Dispenser CA"); err != nil {
			return err
		}
		if err := ca.WriteFiles(caCert, caKey); err != nil {
			return err
		}
	}

	certPEM, keyPEM, err := ca.IssueServerCertificate(hosts)
	if err != nil {
		return err
	}
	if err := certgen.WritePair(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key"), certPEM, keyPEM); err != nil {
		return err
	}

	if client == "" {
		return nil
	}
	certPEM, keyPEM, err = ca.IssueClientCertificate(client)
	if err != nil {
		return err
	}
	return certgen.WritePair(filepath.Join(dir, "client.crt"), filepath.Join(dir, "client.key"), certPEM, keyPEM)
}

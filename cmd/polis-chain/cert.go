package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/polisai/polis-chain/internal/certs"
	"github.com/polisai/polis-chain/pkg/logging"
	"github.com/spf13/cobra"
)

func newCertCmd() *cobra.Command {
	certCmd := &cobra.Command{
		Use:   "cert",
		Short: "Generate and inspect serving certificates",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Write a self-signed certificate for development",
		Args:  cobra.NoArgs,
		RunE:  runCertGenerate,
	}
	generate.Flags().String("cn", "localhost", "Common name")
	generate.Flags().StringSlice("host", nil, "DNS name or IP address (repeatable); defaults to localhost and loopback")
	generate.Flags().Duration("valid-for", 365*24*time.Hour, "Validity period")
	generate.Flags().String("output-dir", ".", "Output directory")
	generate.Flags().String("cert", "server.crt", "Certificate file name")
	generate.Flags().String("key", "server.key", "Key file name")

	inspect := &cobra.Command{
		Use:   "inspect <cert-file> <key-file>",
		Short: "Validate a certificate/key pair and print its details",
		Args:  cobra.ExactArgs(2),
		RunE:  runCertInspect,
	}

	certCmd.AddCommand(generate, inspect)
	return certCmd
}

func runCertGenerate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	cn, _ := flags.GetString("cn")
	hosts, _ := flags.GetStringSlice("host")
	validFor, _ := flags.GetDuration("valid-for")
	outDir, _ := flags.GetString("output-dir")
	certName, _ := flags.GetString("cert")
	keyName, _ := flags.GetString("key")

	certPEM, keyPEM, err := certs.GenerateSelfSigned(certs.GenerateOptions{
		CommonName: cn,
		Hosts:      hosts,
		ValidFor:   validFor,
	})
	if err != nil {
		return err
	}
	certFile := filepath.Join(outDir, certName)
	keyFile := filepath.Join(outDir, keyName)
	if err := certs.WriteFiles(certPEM, keyPEM, certFile, keyFile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", certFile, keyFile)
	return nil
}

func runCertInspect(cmd *cobra.Command, args []string) error {
	r, err := certs.NewReloader(args[0], args[1], certs.WithLogger(logging.Discard()))
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	info := r.Info()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "subject:    %s\n", info.Subject)
	fmt.Fprintf(out, "serial:     %s\n", info.SerialNumber)
	fmt.Fprintf(out, "dns names:  %s\n", strings.Join(info.DNSNames, ", "))
	fmt.Fprintf(out, "not before: %s\n", info.NotBefore.Format(time.RFC3339))
	fmt.Fprintf(out, "not after:  %s\n", info.NotAfter.Format(time.RFC3339))
	return nil
}

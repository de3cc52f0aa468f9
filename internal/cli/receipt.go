package cli

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	gocose "github.com/veraison/go-cose"

	"github.com/GMKrieger/client-server-merkle/internal/client"
	"github.com/GMKrieger/client-server-merkle/pkg/cose"
	"github.com/GMKrieger/client-server-merkle/pkg/receipt"
)

// NewReceiptCommand creates the receipt command
func NewReceiptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipt",
		Short: "Inspect and verify commit receipts",
		Long: `Inspect and verify signed commit receipts.

A receipt is a COSE_Sign1 envelope the server issues for each commit. It
binds the origin, commit ID, Merkle root, file count and a digest of the
ordered manifest.

Subcommands:
  verify  - Verify a receipt signature and its root
  info    - Display receipt contents without verifying`,
	}

	cmd.AddCommand(NewReceiptVerifyCommand())
	cmd.AddCommand(NewReceiptInfoCommand())

	return cmd
}

type receiptVerifyOptions struct {
	clientFlags
	receipt   string
	publicKey string
}

// NewReceiptVerifyCommand creates the receipt verify command
func NewReceiptVerifyCommand() *cobra.Command {
	opts := &receiptVerifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a commit receipt",
		Long: `Verify a commit receipt.

This command:
  1. Loads the receipt from a file, or fetches the current one from the server
  2. Loads the public key from a PEM file, or fetches the server's COSE_Key
  3. Verifies the ES256 signature
  4. Checks the receipt root against the saved root, when one exists

Example:
  merkle receipt verify --receipt commit.cose --public-key receipt-key.pub.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceiptVerify(cmd, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.receipt, "receipt", "", "receipt file (default fetches from the server)")
	cmd.Flags().StringVar(&opts.publicKey, "public-key", "", "PEM public key (default fetches from the server)")

	return cmd
}

func runReceiptVerify(cmd *cobra.Command, opts *receiptVerifyOptions) error {
	cfg, c, err := opts.resolve()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var signed []byte
	if opts.receipt != "" {
		signed, err = os.ReadFile(opts.receipt)
		if err != nil {
			return fmt.Errorf("failed to read receipt: %w", err)
		}
	} else {
		logf(out, "Fetching receipt from %s...\n", cfg.Client.ServerURL)
		signed, err = c.Receipt(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch receipt: %w", err)
		}
	}

	var publicKey *ecdsa.PublicKey
	if opts.publicKey != "" {
		publicKey, err = cose.LoadPublicKey(opts.publicKey)
		if err != nil {
			return err
		}
	} else {
		logf(out, "Fetching receipt key from %s...\n", cfg.Client.ServerURL)
		keyCBOR, err := c.Keys(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch receipt key: %w", err)
		}
		publicKey, err = cose.ImportPublicKeyFromCOSECBOR(keyCBOR)
		if err != nil {
			return err
		}
	}

	r, err := receipt.Verify(signed, publicKey)
	if err != nil {
		return fmt.Errorf("receipt verification failed: %w", err)
	}
	fmt.Fprintln(out, "✓ Signature valid")

	saved, err := client.RootFile{Path: cfg.Client.RootFile}.Load()
	switch {
	case err == nil:
		if err := r.CheckRoot(saved); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Root matches saved root")
	case errors.Is(err, client.ErrNoSavedRoot):
		fmt.Fprintln(out, "  No saved root to compare")
	default:
		return err
	}

	return printReceipt(out, r)
}

type receiptInfoOptions struct {
	receipt string
}

// NewReceiptInfoCommand creates the receipt info command
func NewReceiptInfoCommand() *cobra.Command {
	opts := &receiptInfoOptions{}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Display receipt contents",
		Long: `Decode a receipt and print its contents. The signature is not checked.

Example:
  merkle receipt info --receipt commit.cose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceiptInfo(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.receipt, "receipt", "", "receipt file (required)")
	cmd.MarkFlagRequired("receipt")

	return cmd
}

func runReceiptInfo(cmd *cobra.Command, opts *receiptInfoOptions) error {
	data, err := os.ReadFile(opts.receipt)
	if err != nil {
		return fmt.Errorf("failed to read receipt: %w", err)
	}

	var msg gocose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return fmt.Errorf("failed to decode COSE_Sign1: %w", err)
	}

	r, err := receipt.Decode(msg.Payload)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if alg, err := msg.Headers.Protected.Algorithm(); err == nil {
		fmt.Fprintf(out, "Algorithm:   %s\n", alg)
	}
	if kid, ok := msg.Headers.Protected[gocose.HeaderLabelKeyID].([]byte); ok {
		fmt.Fprintf(out, "Key ID:      %s\n", kid)
	}
	return printReceipt(out, r)
}

func printReceipt(w io.Writer, r *receipt.CommitReceipt) error {
	root, err := r.RootHash()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Origin:      %s\n", r.Origin)
	fmt.Fprintf(w, "Commit:      %s\n", r.CommitID)
	fmt.Fprintf(w, "Root:        %s\n", root)
	fmt.Fprintf(w, "Files:       %d\n", r.FilesCount)
	fmt.Fprintf(w, "Hash:        %s\n", r.HashAlgorithm)
	fmt.Fprintf(w, "Manifest:    %x\n", r.ManifestDigest)
	fmt.Fprintf(w, "Committed:   %s\n", r.Time().Format(time.RFC3339))
	return nil
}

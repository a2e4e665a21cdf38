package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write fresh Ed25519 access and refresh key pairs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range []string{"access", "refresh"} {
				if err := writeKeyPair(dir, name); err != nil {
					return err
				}
				cmd.Printf("wrote %s\n", filepath.Join(dir, name+".pem"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	return cmd
}

// writeKeyPair writes {name}.pem (PKCS#8) and {name}.pub.pem (PKIX).
func writeKeyPair(dir, name string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return oops.Code("KEYGEN_FAILED").Wrap(err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return oops.Code("KEYGEN_FAILED").Wrap(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return oops.Code("KEYGEN_FAILED").Wrap(err)
	}

	files := []struct {
		path  string
		block *pem.Block
		mode  os.FileMode
	}{
		{filepath.Join(dir, name+".pem"), &pem.Block{Type: "PRIVATE KEY", Bytes: privDER}, 0o600},
		{filepath.Join(dir, name+".pub.pem"), &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}, 0o644},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, pem.EncodeToMemory(f.block), f.mode); err != nil {
			return oops.Code("KEYGEN_FAILED").With("path", f.path).Wrap(err)
		}
	}
	return nil
}

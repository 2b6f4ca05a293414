// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package commands

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	edhoc "github.com/lake-edhoc/go-edhoc"
	"github.com/lake-edhoc/go-edhoc/stdcrypto"
	"github.com/lake-edhoc/go-edhoc/suite"
)

var verbose bool

func Execute() error {
	root := &cobra.Command{
		Use:           "edhoc",
		Short:         "EDHOC (RFC 9528) key exchange tool",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(keygenCmd(), serveCmd(), connectCmd(), demoCmd())
	return root.Execute()
}

// identityFile is the YAML session configuration: this party's method and
// suite, its credential and private key, and optionally the pinned peer
// credential. Byte fields are hex encoded.
type identityFile struct {
	Method     int64  `yaml:"method"`
	Suite      int64  `yaml:"suite"`
	Subject    string `yaml:"subject"`
	KID        string `yaml:"kid"`
	PrivateKey string `yaml:"private_key"`
	Credential string `yaml:"credential"`

	PeerCredential string `yaml:"peer_credential,omitempty"`
	ConnID         string `yaml:"connection_id,omitempty"`
	Message4       bool   `yaml:"message4,omitempty"`
}

func loadIdentity(path string) (*identityFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id identityFile
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &id, nil
}

func (id *identityFile) sessionConfig() (edhoc.Config, error) {
	cfg := edhoc.Config{
		Method:   edhoc.Method(id.Method),
		Suites:   []suite.ID{suite.ID(id.Suite)},
		Crypto:   stdcrypto.New(),
		Message4: id.Message4,
	}

	credBytes, err := hex.DecodeString(id.Credential)
	if err != nil {
		return cfg, fmt.Errorf("credential: %w", err)
	}
	if cfg.Cred, err = edhoc.ParseCredential(credBytes); err != nil {
		return cfg, err
	}
	if cfg.AuthKey, err = hex.DecodeString(id.PrivateKey); err != nil {
		return cfg, fmt.Errorf("private_key: %w", err)
	}

	if id.PeerCredential != "" {
		peerBytes, err := hex.DecodeString(id.PeerCredential)
		if err != nil {
			return cfg, fmt.Errorf("peer_credential: %w", err)
		}
		if cfg.PeerCred, err = edhoc.ParseCredential(peerBytes); err != nil {
			return cfg, err
		}
	}
	if id.ConnID != "" {
		b, err := hex.DecodeString(id.ConnID)
		if err != nil {
			return cfg, fmt.Errorf("connection_id: %w", err)
		}
		cfg.ConnID = edhoc.ConnID(b)
	}
	return cfg, nil
}

// printSession reports the handshake outcome and the derived OSCORE
// material on stdout.
func printSession(sess *edhoc.Session) error {
	secret, err := sess.OSCORESecuritySecret()
	if err != nil {
		return err
	}
	salt, err := sess.OSCORESecuritySalt()
	if err != nil {
		return err
	}
	cI, cR := sess.ConnIDs()
	fmt.Printf("peer subject:         %s\n", sess.PeerCredential().Subject)
	fmt.Printf("suite:                %v\n", sess.Suite().ID)
	fmt.Printf("connection ids:       C_I=%s C_R=%s\n", cI, cR)
	fmt.Printf("oscore master secret: %x\n", secret)
	fmt.Printf("oscore master salt:   %x\n", salt)
	return nil
}

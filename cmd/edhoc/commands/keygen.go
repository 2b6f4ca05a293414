// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	edhoc "github.com/lake-edhoc/go-edhoc"
	"github.com/lake-edhoc/go-edhoc/stdcrypto"
	"github.com/lake-edhoc/go-edhoc/suite"
)

func keygenCmd() *cobra.Command {
	var (
		method  int64
		suiteID int64
		role    string
		subject string
		kidHex  string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key pair and CCS credential, writing an identity file",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := suite.Lookup(suite.ID(suiteID))
			if !ok {
				return fmt.Errorf("suite %d not registered", suiteID)
			}
			m := edhoc.Method(method)
			kid, err := hex.DecodeString(kidHex)
			if err != nil {
				return fmt.Errorf("kid: %w", err)
			}

			if role != "initiator" && role != "responder" {
				return fmt.Errorf("role must be initiator or responder")
			}
			priv, cred, err := generateIdentity(m, s, role, subject, kid)
			if err != nil {
				return err
			}

			id := identityFile{
				Method:     method,
				Suite:      suiteID,
				Subject:    subject,
				KID:        kidHex,
				PrivateKey: hex.EncodeToString(priv),
				Credential: hex.EncodeToString(cred.Bytes),
			}
			data, err := yaml.Marshal(&id)
			if err != nil {
				return err
			}
			if out == "-" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s (share the credential line with peers):\ncredential: %s\n",
				out, id.Credential)
			return nil
		},
	}
	cmd.Flags().Int64Var(&method, "method", int64(edhoc.MethodStatStat), "authentication method 0-3")
	cmd.Flags().StringVar(&role, "role", "initiator", "role this identity will play (initiator or responder)")
	cmd.Flags().Int64Var(&suiteID, "suite", int64(suite.X25519AesCcm8), "cipher suite id")
	cmd.Flags().StringVar(&subject, "subject", "", "credential subject name")
	cmd.Flags().StringVar(&kidHex, "kid", "2b", "credential key identifier (hex)")
	cmd.Flags().StringVarP(&out, "out", "o", "identity.yaml", "output file, - for stdout")
	return cmd
}

// generateIdentity creates the authentication key the given role needs
// under the method: a static-DH key on the suite's curve, or a signature
// key for the suite's signature algorithm.
func generateIdentity(m edhoc.Method, s suite.Suite, role, subject string, kid []byte) ([]byte, *edhoc.Credential, error) {
	c := stdcrypto.New()

	var static bool
	if role == "initiator" {
		static = m == edhoc.MethodStatSig || m == edhoc.MethodStatStat
	} else {
		static = m == edhoc.MethodSigStat || m == edhoc.MethodStatStat
	}
	switch {
	case static:
		priv, pub, err := c.GenerateKeyPair(rand.Reader, s.Curve)
		if err != nil {
			return nil, nil, err
		}
		crv := edhoc.CrvX25519
		if s.Curve == suite.P256 {
			crv = edhoc.CrvP256
		}
		cred, err := edhoc.BuildCCS(subject, kid, crv, pub, nil)
		if err != nil {
			return nil, nil, err
		}
		return priv, cred, nil
	case s.Sig == suite.EdDSA:
		priv, pub, err := stdcrypto.EdDSAGenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		cred, err := edhoc.BuildCCS(subject, kid, edhoc.CrvEd25519, pub, nil)
		if err != nil {
			return nil, nil, err
		}
		return priv, cred, nil
	default:
		priv, pub, err := stdcrypto.ES256GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		cred, err := edhoc.BuildCCS(subject, kid, edhoc.CrvP256, pub[:32], pub[32:])
		if err != nil {
			return nil, nil, err
		}
		return priv, cred, nil
	}
}

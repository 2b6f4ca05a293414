// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	edhoc "github.com/lake-edhoc/go-edhoc"
	"github.com/lake-edhoc/go-edhoc/stdcrypto"
	"github.com/lake-edhoc/go-edhoc/suite"
)

func demoCmd() *cobra.Command {
	var (
		method  int64
		suiteID int64
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run both roles in-process with fresh identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok := suite.Lookup(suite.ID(suiteID))
			if !ok {
				return fmt.Errorf("suite %d not registered", suiteID)
			}
			m := edhoc.Method(method)

			iPriv, iCred, err := generateIdentity(m, s, "initiator", "demo-initiator", []byte{0x2b})
			if err != nil {
				return err
			}
			rPriv, rCred, err := generateIdentity(m, s, "responder", "demo-responder", []byte{0x07})
			if err != nil {
				return err
			}

			init, err := edhoc.NewInitiator(edhoc.Config{
				Method: m, Suites: []suite.ID{s.ID}, Crypto: stdcrypto.New(),
				Cred: iCred, AuthKey: iPriv, PeerCred: rCred,
			})
			if err != nil {
				return err
			}
			resp, err := edhoc.NewResponder(edhoc.Config{
				Method: m, Suites: []suite.ID{s.ID}, Crypto: stdcrypto.New(),
				Cred: rCred, AuthKey: rPriv, PeerCred: iCred,
			})
			if err != nil {
				return err
			}

			msg1, err := init.BuildMessage1()
			if err != nil {
				return err
			}
			fmt.Printf("message_1 (%3d bytes): %x\n", len(msg1), msg1)
			if err := resp.ProcessMessage1(msg1); err != nil {
				return err
			}
			msg2, err := resp.BuildMessage2()
			if err != nil {
				return err
			}
			fmt.Printf("message_2 (%3d bytes): %x\n", len(msg2), msg2)
			if err := init.ProcessMessage2(msg2); err != nil {
				return err
			}
			msg3, err := init.BuildMessage3()
			if err != nil {
				return err
			}
			fmt.Printf("message_3 (%3d bytes): %x\n", len(msg3), msg3)
			if err := resp.ProcessMessage3(msg3); err != nil {
				return err
			}

			sess, err := init.Session()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()
			return printSession(sess)
		},
	}
	cmd.Flags().Int64Var(&method, "method", int64(edhoc.MethodStatStat), "authentication method 0-3")
	cmd.Flags().Int64Var(&suiteID, "suite", int64(suite.X25519AesCcm8), "cipher suite id")
	return cmd
}

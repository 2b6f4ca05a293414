// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package commands

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	edhoc "github.com/lake-edhoc/go-edhoc"
)

func connectCmd() *cobra.Command {
	var (
		config string
		addr   string
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run an initiator handshake against a UDP responder",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity(config)
			if err != nil {
				return err
			}
			cfg, err := id.sessionConfig()
			if err != nil {
				return err
			}

			conn, err := net.Dial("udp", addr)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))

			init, err := edhoc.NewInitiator(cfg)
			if err != nil {
				return err
			}
			failTo := func(procErr error) error {
				if out := init.ProtocolError(); out != nil {
					_, _ = conn.Write(out)
				}
				return procErr
			}

			msg1, err := init.BuildMessage1()
			if err != nil {
				return err
			}
			if _, err := conn.Write(msg1); err != nil {
				return err
			}

			var buf [edhoc.MaxMessageLen]byte
			n, err := conn.Read(buf[:])
			if err != nil {
				return err
			}
			if err := init.ProcessMessage2(buf[:n]); err != nil {
				return failTo(err)
			}
			msg3, err := init.BuildMessage3()
			if err != nil {
				return failTo(err)
			}
			if _, err := conn.Write(msg3); err != nil {
				return err
			}
			if id.Message4 {
				if n, err = conn.Read(buf[:]); err != nil {
					return err
				}
				if err := init.ProcessMessage4(buf[:n]); err != nil {
					return failTo(err)
				}
			}

			sess, err := init.Session()
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()
			fmt.Printf("handshake with %s complete\n", addr)
			return printSession(sess)
		},
	}
	cmd.Flags().StringVarP(&config, "config", "c", "identity.yaml", "identity file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:5683", "responder UDP address")
	return cmd
}

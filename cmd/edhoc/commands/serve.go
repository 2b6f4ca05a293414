// SPDX-FileCopyrightText: (C) 2025 the go-edhoc authors
// SPDX-License-Identifier: Apache 2.0

package commands

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/cobra"

	edhoc "github.com/lake-edhoc/go-edhoc"
)

const handshakeTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var (
		config string
		listen string
		once   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a responder over UDP, one handshake at a time",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity(config)
			if err != nil {
				return err
			}
			addr, err := net.ResolveUDPAddr("udp", listen)
			if err != nil {
				return err
			}
			conn, err := net.ListenUDP("udp", addr)
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			slog.Info("listening", "addr", conn.LocalAddr())

			var reg edhoc.ConnIDRegistry
			for {
				if err := serveOne(conn, id, &reg); err != nil {
					slog.Error("handshake failed", "error", err)
				}
				if once {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVarP(&config, "config", "c", "identity.yaml", "identity file")
	cmd.Flags().StringVarP(&listen, "listen", "l", ":5683", "UDP listen address")
	cmd.Flags().BoolVar(&once, "once", false, "exit after one handshake")
	return cmd
}

// serveOne runs a single responder handshake against whichever peer sends
// the next message 1. Each message is one datagram.
func serveOne(conn *net.UDPConn, id *identityFile, reg *edhoc.ConnIDRegistry) error {
	cfg, err := id.sessionConfig()
	if err != nil {
		return err
	}
	if cfg.ConnID == nil {
		cID, err := reg.Allocate(rand.Reader)
		if err == nil {
			cfg.ConnID = cID
			defer reg.Release(cID)
		}
	}

	resp, err := edhoc.NewResponder(cfg)
	if err != nil {
		return err
	}

	var buf [edhoc.MaxMessageLen]byte
	n, peer, err := conn.ReadFromUDP(buf[:])
	if err != nil {
		return err
	}
	deadline := time.Now().Add(handshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	reply := func(b []byte) error {
		_, err := conn.WriteToUDP(b, peer)
		return err
	}
	failTo := func(procErr error) error {
		if out := resp.ProtocolError(); out != nil {
			_ = reply(out)
		}
		return procErr
	}

	if err := resp.ProcessMessage1(buf[:n]); err != nil {
		return failTo(err)
	}
	msg2, err := resp.BuildMessage2()
	if err != nil {
		return failTo(err)
	}
	if err := reply(msg2); err != nil {
		return err
	}

	if n, _, err = conn.ReadFromUDP(buf[:]); err != nil {
		return err
	}
	if err := resp.ProcessMessage3(buf[:n]); err != nil {
		return failTo(err)
	}
	if id.Message4 {
		msg4, err := resp.BuildMessage4()
		if err != nil {
			return failTo(err)
		}
		if err := reply(msg4); err != nil {
			return err
		}
	}

	sess, err := resp.Session()
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	fmt.Printf("handshake with %s complete\n", peer)
	return printSession(sess)
}

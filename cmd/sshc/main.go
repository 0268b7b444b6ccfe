// sshc is the session core's client binary: it dials, performs the
// identification exchange, drives KEX via session.Session, then requests
// ssh-userauth and runs one ssh-connection "exec" or "shell" request.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"

	"golang.org/x/crypto/ssh/terminal"

	"blitter.com/go/sshcore/config"
	"blitter.com/go/sshcore/factory"
	"blitter.com/go/sshcore/logger"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/services"
	"blitter.com/go/sshcore/session"
	"blitter.com/go/sshcore/transport"
	"blitter.com/go/sshcore/wire"
)

var (
	version   string
	gitCommit string
)

func main() {
	var vopt bool
	var cfg config.ClientConfig
	cfg.RegisterFlags(flag.CommandLine)
	flag.BoolVar(&vopt, "v", false, "show version")
	cmdStr := flag.String("x", "", "run `command` on the remote host (default: interactive shell)")
	flag.Parse()

	if vopt {
		fmt.Printf("version %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}
	if cfg.DialAddr == "" {
		flag.Usage()
		os.Exit(1)
	}

	if cfg.Debug {
		Log, _ := logger.New(logger.LOG_USER|logger.LOG_DEBUG|logger.LOG_NOTICE|logger.LOG_ERR, "sshc") // nolint: gosec
		log.SetOutput(Log)
	} else {
		log.SetOutput(ioutil.Discard)
	}

	if cfg.User == "" {
		u, err := currentUsername()
		if err != nil {
			log.Fatal(err)
		}
		cfg.User = u
	}
	if cfg.Password == "" {
		pw, err := promptPassword()
		if err != nil {
			log.Fatal(err)
		}
		cfg.Password = pw
	}

	c, err := transport.Dial(cfg.Proto, cfg.DialAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close() // nolint: errcheck

	localID := "sshcore_" + version
	if err := transport.SendIdentification(c, localID); err != nil {
		log.Fatal(err)
	}
	remoteID, err := transport.ReceiveClientIdentification(c.R)
	if err != nil {
		log.Fatal(err)
	}

	sess := session.NewSession(false, c, factory.NewManager(), nil)
	cfg.Shared.ApplyTo(sess)
	sess.RegisterService(services.NewUserAuthClient(sess))
	connClient := services.NewConnectionClient(sess, os.Stdout)
	sess.RegisterService(connClient)

	if err := sess.Start(localID, remoteID); err != nil {
		log.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- runLoop(sess, c) }()

	if err := authenticate(sess, cfg.User, cfg.Password); err != nil {
		log.Fatal(err)
	}

	if err := requestExec(sess, *cmdStr); err != nil {
		log.Fatal(err)
	}

	// The stand-in Connection service on the server never closes the
	// underlying connection after the channel ends, so wait on whichever
	// finishes first: the channel closing (normal exec/shell completion)
	// or the raw connection ending (e.g. the server disconnecting).
	select {
	case <-connClient.Done():
	case <-done:
	}
}

func currentUsername() (string, error) {
	if u := os.Getenv("USER"); u != "" {
		return u, nil
	}
	return "", errors.New("sshc: cannot determine local username, pass -u")
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// authenticate drives the client half of RFC 4252: SERVICE_REQUEST for
// ssh-userauth, then one password USERAUTH_REQUEST, blocking on the
// Session's request rendezvous for the accept and success/failure reply.
func authenticate(sess *session.Session, username, password string) error {
	svcReq := wire.New()
	svcReq.WriteUint8(proto.MsgServiceRequest)
	svcReq.WriteString("ssh-userauth")
	if _, err := sess.Request(svcReq.Bytes()); err != nil {
		return fmt.Errorf("sshc: ssh-userauth service request failed: %w", err)
	}

	authReq := wire.New()
	authReq.WriteUint8(proto.MsgUserauthRequest)
	authReq.WriteString(username)
	authReq.WriteString("ssh-connection")
	authReq.WriteString("password")
	authReq.WriteBool(false)
	authReq.WriteString(password)
	if _, err := sess.Request(authReq.Bytes()); err != nil {
		return fmt.Errorf("sshc: authentication failed: %w", err)
	}
	return nil
}

// requestExec opens the single stand-in session channel and issues either
// an "exec" or a "shell" channel request, mirroring xs.go's shellMode
// dichotomy without the tunnel/copy modes (out of scope).
func requestExec(sess *session.Session, cmdStr string) error {
	svcReq := wire.New()
	svcReq.WriteUint8(proto.MsgServiceRequest)
	svcReq.WriteString("ssh-connection")
	if _, err := sess.Request(svcReq.Bytes()); err != nil {
		return fmt.Errorf("sshc: ssh-connection service request failed: %w", err)
	}

	open := wire.New()
	open.WriteUint8(proto.MsgChannelOpen)
	open.WriteString("session")
	open.WriteUint32(0)
	open.WriteUint32(1 << 20)
	open.WriteUint32(32 * 1024)
	if err := sess.WritePacket(open.Bytes()); err != nil {
		return err
	}

	req := wire.New()
	req.WriteUint8(proto.MsgChannelRequest)
	req.WriteUint32(0)
	if cmdStr == "" {
		req.WriteString("shell")
		req.WriteBool(false)
	} else {
		req.WriteString("exec")
		req.WriteBool(false)
		req.WriteString(cmdStr)
	}
	return sess.WritePacket(req.Bytes())
}

func runLoop(sess *session.Session, c *transport.Conn) error {
	buf := make([]byte, 32*1024)
	if drained, derr := c.Drain(); derr == nil && len(drained) > 0 {
		if err := dispatchChunk(sess, drained); err != nil {
			return err
		}
	}
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if derr := dispatchChunk(sess, buf[:n]); derr != nil {
				return derr
			}
		}
		if err != nil {
			return err
		}
	}
}

func dispatchChunk(sess *session.Session, chunk []byte) error {
	payloads, err := sess.Codec().Decode(chunk)
	if err != nil {
		_ = sess.Disconnect(proto.DisconnectProtocolError, "decode failure")
		return err
	}
	for _, p := range payloads {
		if err := sess.Dispatch(p); err != nil {
			var serr *session.Error
			if errors.As(err, &serr) && serr.Reason != 0 {
				_ = sess.Disconnect(serr.Reason, serr.Msg)
			}
			if !errors.Is(err, io.EOF) {
				log.Println("session ended:", err)
			}
			return err
		}
	}
	return nil
}

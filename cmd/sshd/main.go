// sshd is the session core's server binary: it listens, performs the
// identification exchange, then drives a session.Session through KEX,
// ssh-userauth, and ssh-connection to completion.
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
	"os/signal"
	"syscall"

	"blitter.com/go/sshcore/config"
	"blitter.com/go/sshcore/factory"
	"blitter.com/go/sshcore/kex"
	"blitter.com/go/sshcore/logger"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/services"
	"blitter.com/go/sshcore/session"
	"blitter.com/go/sshcore/transport"
)

var (
	version   string
	gitCommit string // set in -ldflags by build

	allowedKEX    csv
	allowedCipher csv
	allowedMAC    csv
)

// csv is a flag.Value collecting repeated -aK/-aC/-aM occurrences into a
// name list, mirroring xsd.go's allowedKEXAlgs/allowedCipherAlgs/
// allowedHMACAlgs flag.Var plumbing, generalized to the negotiated
// algorithm names this core actually uses.
type csv []string

func (c *csv) String() string     { return fmt.Sprintf("%v", *c) }
func (c *csv) Set(v string) error { *c = append(*c, v); return nil }

func main() {
	var vopt bool
	var cfg config.ServerConfig
	cfg.RegisterFlags(flag.CommandLine)
	flag.BoolVar(&vopt, "v", false, "show version")
	flag.Var(&allowedKEX, "aK", "allowed KEX algorithm (repeatable; default allow all)")
	flag.Var(&allowedCipher, "aC", "allowed cipher algorithm (repeatable; default allow all)")
	flag.Var(&allowedMAC, "aM", "allowed MAC algorithm (repeatable; default allow all)")
	flag.Parse()

	if vopt {
		fmt.Printf("version %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	Log, _ := logger.New(logger.LOG_DAEMON|logger.LOG_DEBUG|logger.LOG_NOTICE|logger.LOG_ERR, "sshd") // nolint: gosec
	if cfg.Debug {
		log.SetOutput(Log)
	} else {
		log.SetOutput(ioutil.Discard)
	}

	exitCh := make(chan os.Signal, 1)
	signal.Notify(exitCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		sig := <-exitCh
		logger.LogMessage("notice", "got signal %v, shutting down", sig)
		os.Exit(0)
	}()

	l, err := transport.Listen(cfg.Proto, cfg.ListenAddr)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close() // nolint: errcheck

	allow := &kex.AllowList{
		KEXAlgorithms:    allowedKEX,
		CipherAlgorithms: allowedCipher,
		MACAlgorithms:    allowedMAC,
	}

	auth := services.NewAuthCtx()
	var verify services.PasswordVerifier
	if cfg.UseSystemPasswd {
		verify = func(u, p string) (bool, error) { return services.VerifyShadowPassword(auth, u, p) }
	} else {
		verify = func(u, p string) (bool, error) {
			return services.VerifyPasswdFile(auth, u, p, cfg.PasswdFile), nil
		}
	}

	logger.LogMessage("notice", "serving on %s (%s)", cfg.ListenAddr, cfg.Proto)
	for {
		c, err := l.Accept()
		if err != nil {
			logger.LogMessage("err", "accept: %v", err)
			continue
		}
		go serve(c, &cfg, allow, verify)
	}
}

func serve(c *transport.Conn, cfg *config.ServerConfig, allow *kex.AllowList, verify services.PasswordVerifier) {
	defer c.Close() // nolint: errcheck

	if err := transport.SendIdentification(c, "sshcore_"+version); err != nil {
		logger.LogMessage("warn", "identification send failed: %v", err)
		return
	}
	remoteID, err := transport.ReceiveServerIdentification(c.R)
	if err != nil {
		logger.LogMessage("warn", "identification receive failed: %v", err)
		return
	}

	sess := session.NewSession(true, c, factory.NewManager(), allow)
	cfg.Shared.ApplyTo(sess)
	sess.RegisterService(services.NewUserAuth(sess, verify, cfg.ListenAddr))
	sess.RegisterService(services.NewConnection(sess, nil))

	if err := sess.Start("sshcore_"+version, remoteID); err != nil {
		logger.LogMessage("warn", "KEX start failed: %v", err)
		return
	}

	runLoop(sess, c)
}

// runLoop feeds raw bytes arriving on c into the Session's Codec and
// dispatches every decoded payload, mirroring the teacher's per-connection
// goroutine in xsd.go's accept loop.
func runLoop(sess *session.Session, c *transport.Conn) {
	buf := make([]byte, 32*1024)
	if drained, derr := c.Drain(); derr == nil && len(drained) > 0 {
		dispatchChunk(sess, drained)
	}
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if derr := dispatchChunk(sess, buf[:n]); derr != nil {
				return
			}
		}
		if err != nil {
			if !sess.IsClosing() {
				logger.LogMessage("info", "connection read ended: %v", err)
			}
			return
		}
	}
}

func dispatchChunk(sess *session.Session, chunk []byte) error {
	payloads, err := sess.Codec().Decode(chunk)
	if err != nil {
		logger.LogMessage("warn", "codec decode failed: %v", err)
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
				logger.LogMessage("info", "session ended: %v", err)
			}
			return err
		}
	}
	return nil
}

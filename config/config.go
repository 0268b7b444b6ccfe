// Package config declares the session core's configuration surface
// (distilled spec §6) as flag.FlagSet bindings, matching xsd.go/xs.go's
// own direct `flag` usage rather than introducing a config-file parser
// the teacher never had.
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package config

import (
	"flag"
	"time"

	"blitter.com/go/sshcore/kex"
	"blitter.com/go/sshcore/session"
)

// Shared is the subset of distilled spec §6 config keys common to both
// sshd and sshc: timeouts and rekey thresholds, expressed as millisecond
// flags the way the teacher exposes chaff/timeout knobs in xsd.go.
type Shared struct {
	AuthTimeoutMs       uint
	IdleTimeoutMs       uint
	DisconnectTimeoutMs uint
	RekeyBytesLimit     uint64
	RekeyTimeLimitMs    uint
	MaxAuthRequests     uint

	WelcomeBanner         string
	WelcomeBannerLanguage string
}

// RegisterFlags binds Shared's fields to fs with the distilled spec §6
// defaults.
func (c *Shared) RegisterFlags(fs *flag.FlagSet) {
	fs.UintVar(&c.AuthTimeoutMs, "auth-timeout", uint(session.DefaultAuthTimeout/time.Millisecond),
		"ms until unauthenticated disconnect")
	fs.UintVar(&c.IdleTimeoutMs, "idle-timeout", uint(session.DefaultIdleTimeout/time.Millisecond),
		"ms of inactivity before disconnect")
	fs.UintVar(&c.DisconnectTimeoutMs, "disconnect-timeout", uint(session.DefaultDisconnectGrace/time.Millisecond),
		"grace ms for DISCONNECT write")
	fs.Uint64Var(&c.RekeyBytesLimit, "rekey-bytes-limit", kex.DefaultRekeyBytes,
		"trigger rekey after N bytes in either direction")
	fs.UintVar(&c.RekeyTimeLimitMs, "rekey-time-limit", uint(kex.DefaultRekeyTime/time.Millisecond),
		"trigger rekey after ms since last keys")
	fs.UintVar(&c.MaxAuthRequests, "max-auth-requests", session.DefaultMaxAuthRequests,
		"server-side cap on failed auth attempts")
	fs.StringVar(&c.WelcomeBanner, "welcome-banner", "", "optional banner shown before authentication")
	fs.StringVar(&c.WelcomeBannerLanguage, "welcome-banner-language", session.DefaultWelcomeBannerLang,
		"language tag for welcome-banner")
}

// ApplyTo pushes the parsed values onto a freshly constructed Session,
// overriding its distilled-spec defaults.
func (c *Shared) ApplyTo(s *session.Session) {
	auth, idle, disconnect, rekeyTime := c.Durations()
	s.SetMaxAuthRequests(int(c.MaxAuthRequests))
	s.SetAuthTimeout(auth)
	s.SetIdleTimeout(idle)
	s.SetDisconnectGrace(disconnect)
	s.Coordinator().RekeyBytes = c.RekeyBytesLimit
	s.Coordinator().RekeyTime = rekeyTime
}

// Durations exposes the millisecond flags as time.Durations for callers
// building the Coordinator's rekey thresholds or the Core's timeout ticker.
func (c *Shared) Durations() (auth, idle, disconnect, rekeyTime time.Duration) {
	return time.Duration(c.AuthTimeoutMs) * time.Millisecond,
		time.Duration(c.IdleTimeoutMs) * time.Millisecond,
		time.Duration(c.DisconnectTimeoutMs) * time.Millisecond,
		time.Duration(c.RekeyTimeLimitMs) * time.Millisecond
}

// ServerConfig is sshd's full flag set: Shared plus listen address,
// transport proto, and auth backend selection, grounded on xsd.go's own
// flag.StringVar/BoolVar block.
type ServerConfig struct {
	Shared

	ListenAddr      string
	Proto           string // "tcp" or "kcp"
	UseSystemPasswd bool
	PasswdFile      string
	Debug           bool
}

// RegisterFlags binds ServerConfig's fields to fs, matching xsd.go's -l/
// -K/-s/-d flags.
func (c *ServerConfig) RegisterFlags(fs *flag.FlagSet) {
	c.Shared.RegisterFlags(fs)
	fs.StringVar(&c.ListenAddr, "l", ":2022", "interface[:port] to listen")
	fs.StringVar(&c.Proto, "K", "tcp", `"tcp" or "kcp" (FEC-protected UDP via github.com/xtaci/kcp-go)`)
	fs.BoolVar(&c.UseSystemPasswd, "s", false, "use system shadow passwds instead of -f passwd file")
	fs.StringVar(&c.PasswdFile, "f", "/etc/xs.passwd", "bcrypt passwd file (ignored if -s)")
	fs.BoolVar(&c.Debug, "d", false, "debug logging")
}

// ClientConfig is sshc's full flag set: Shared plus dial address, proto,
// and credentials, grounded on xs.go's own flag block.
type ClientConfig struct {
	Shared

	DialAddr string
	Proto    string
	User     string
	Password string
	Debug    bool
}

// RegisterFlags binds ClientConfig's fields to fs.
func (c *ClientConfig) RegisterFlags(fs *flag.FlagSet) {
	c.Shared.RegisterFlags(fs)
	fs.StringVar(&c.DialAddr, "a", "", "host[:port] to connect to")
	fs.StringVar(&c.Proto, "K", "tcp", `"tcp" or "kcp"`)
	fs.StringVar(&c.User, "u", "", "username")
	fs.StringVar(&c.Password, "p", "", "password (omit to be prompted)")
	fs.BoolVar(&c.Debug, "d", false, "debug logging")
}

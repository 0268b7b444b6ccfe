package services

import (
	"errors"
	"io"
	"io/ioutil"
	"sync"

	"blitter.com/go/sshcore/logger"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/session"
	"blitter.com/go/sshcore/wire"
)

// UserAuthClient is the client half of RFC 4252's password method: it
// sends nothing on its own (the caller drives SERVICE_REQUEST/
// USERAUTH_REQUEST via Session.Request), but settles that pending
// rendezvous once the server's USERAUTH_SUCCESS/FAILURE arrives (a
// USERAUTH_BANNER is only logged), the counterpart to UserAuth on the
// server side.
type UserAuthClient struct {
	sess *session.Session
}

// NewUserAuthClient returns a ssh-userauth service bound to sess, for the
// client role.
func NewUserAuthClient(sess *session.Session) *UserAuthClient {
	return &UserAuthClient{sess: sess}
}

// Name returns the RFC 4252 service name this Service answers to.
func (u *UserAuthClient) Name() string { return "ssh-userauth" }

// Process implements session.Service.
func (u *UserAuthClient) Process(cmd byte, payload []byte) error {
	switch cmd {
	case proto.MsgUserauthSuccess:
		u.sess.SetAuthed(true)
		u.sess.RequestSuccess(payload)
		return nil
	case proto.MsgUserauthFailure:
		b := wire.NewFromBytes(payload)
		methods, err := b.ReadString()
		if err != nil {
			methods = ""
		}
		u.sess.RequestFailure(errors.New("services: authentication failed, remaining methods: " + methods))
		return nil
	case proto.MsgUserauthBanner:
		b := wire.NewFromBytes(payload)
		msg, err := b.ReadString()
		if err == nil && msg != "" {
			logger.LogMessage("info", "server banner: %s", msg)
		}
		return nil
	default:
		return nil
	}
}

// ConnectionClient is the client half of the ssh-connection stand-in: it
// reacts to the lifecycle of the single channel Connection drives on the
// server side, streaming CHANNEL_DATA/CHANNEL_EXTENDED_DATA to out and
// closing Done() once the server closes the channel.
type ConnectionClient struct {
	sess *session.Session
	out  io.Writer

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnectionClient returns a ssh-connection service bound to sess,
// writing channel data to out (os.Stdout for an interactive client). A
// nil out discards channel data.
func NewConnectionClient(sess *session.Session, out io.Writer) *ConnectionClient {
	if out == nil {
		out = ioutil.Discard
	}
	return &ConnectionClient{sess: sess, out: out, done: make(chan struct{})}
}

// Name returns the RFC 4254 service name this Service answers to.
func (c *ConnectionClient) Name() string { return "ssh-connection" }

// Done returns a channel closed once the server has closed the session
// channel, so the caller can stop waiting on the connection's raw read
// loop once the one-shot exec/shell has finished.
func (c *ConnectionClient) Done() <-chan struct{} { return c.done }

// Process implements session.Service.
func (c *ConnectionClient) Process(cmd byte, payload []byte) error {
	switch cmd {
	case proto.MsgChannelOpenConfirm, proto.MsgChannelOpenFailure:
		return nil // single stand-in channel, nothing further to negotiate
	case proto.MsgChannelData:
		return c.writeChannelString(payload)
	case proto.MsgChannelExtendedData:
		return c.writeExtendedData(payload)
	case proto.MsgChannelRequest:
		return c.handleRequest(payload)
	case proto.MsgChannelEOF:
		return nil
	case proto.MsgChannelClose:
		c.closeOnce.Do(func() { close(c.done) })
		return nil
	case proto.MsgChannelSuccess, proto.MsgChannelFailure:
		return nil
	default:
		return nil
	}
}

func (c *ConnectionClient) writeChannelString(payload []byte) error {
	b := wire.NewFromBytes(payload)
	if _, err := b.ReadUint32(); err != nil {
		return err
	}
	data, err := b.ReadString()
	if err != nil {
		return err
	}
	_, err = c.out.Write([]byte(data))
	return err
}

func (c *ConnectionClient) writeExtendedData(payload []byte) error {
	b := wire.NewFromBytes(payload)
	if _, err := b.ReadUint32(); err != nil {
		return err
	}
	if _, err := b.ReadUint32(); err != nil { // data type code, e.g. SSH_EXTENDED_DATA_STDERR
		return err
	}
	data, err := b.ReadString()
	if err != nil {
		return err
	}
	_, err = c.out.Write([]byte(data))
	return err
}

func (c *ConnectionClient) handleRequest(payload []byte) error {
	b := wire.NewFromBytes(payload)
	if _, err := b.ReadUint32(); err != nil {
		return err
	}
	reqType, err := b.ReadString()
	if err != nil {
		return err
	}
	if _, err := b.ReadBool(); err != nil { // wantReply, always false from Connection.sendExitStatus
		return err
	}
	if reqType == "exit-status" {
		status, err := b.ReadUint32()
		if err == nil {
			logger.LogMessage("info", "remote exit status %d", status)
		}
	}
	return nil
}

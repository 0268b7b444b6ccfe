package services

import (
	"blitter.com/go/sshcore/logger"
	"blitter.com/go/sshcore/proto"
	"blitter.com/go/sshcore/session"
	"blitter.com/go/sshcore/wire"
)

// ExecHandler runs a requested command and returns its combined output
// and exit status; the stub Connection service calls this instead of
// implementing a real process/pty subsystem (out of scope per distilled
// spec §1).
type ExecHandler func(cmd string) (status uint32, output []byte, err error)

// Connection implements a minimal RFC 4254 ssh-connection stand-in: a
// single "session"-type channel accepting one "exec" or "shell" request,
// enough to exercise SERVICE_REQUEST/SERVICE_ACCEPT dispatch end to end
// without a full channel-multiplexing/window-adjustment implementation.
//
// Grounded on xsd.go's accept-loop structure (one command or shell per
// connection, no sub-channel multiplexing), trimmed here to dispatch
// only.
type Connection struct {
	sess *session.Session
	exec ExecHandler

	open     bool
	localID  uint32
	remoteID uint32
}

// NewConnection returns a ssh-connection service bound to sess. exec
// handles "exec" channel requests; nil disables command execution
// entirely (every exec request fails, shell requests still succeed).
func NewConnection(sess *session.Session, exec ExecHandler) *Connection {
	return &Connection{sess: sess, exec: exec}
}

// Name returns the RFC 4254 service name this Service answers to.
func (c *Connection) Name() string { return "ssh-connection" }

// Process implements session.Service, routing the small slice of RFC 4254
// opcodes this stand-in understands.
func (c *Connection) Process(cmd byte, payload []byte) error {
	switch cmd {
	case proto.MsgChannelOpen:
		return c.handleOpen(payload)
	case proto.MsgChannelRequest:
		return c.handleRequest(payload)
	case proto.MsgChannelClose:
		return c.handleClose(payload)
	case proto.MsgChannelData, proto.MsgChannelEOF:
		return nil // accepted but unhandled by this stand-in
	default:
		return c.sendUnimplemented()
	}
}

func (c *Connection) handleOpen(payload []byte) error {
	b := wire.NewFromBytes(payload)
	chanType, err := b.ReadString()
	if err != nil {
		return err
	}
	senderChannel, err := b.ReadUint32()
	if err != nil {
		return err
	}
	initWindow, err := b.ReadUint32()
	if err != nil {
		return err
	}
	maxPacket, err := b.ReadUint32()
	if err != nil {
		return err
	}

	if chanType != "session" || c.open {
		out := wire.New()
		out.WriteUint8(proto.MsgChannelOpenFailure)
		out.WriteUint32(senderChannel)
		if c.open {
			out.WriteUint32(proto.ChannelOpenResourceShortage)
			out.WriteString("only one channel supported by this stand-in")
		} else {
			out.WriteUint32(proto.ChannelOpenUnknownChannelType)
			out.WriteString("only \"session\" channels are supported")
		}
		out.WriteString("en")
		return c.sess.WritePacket(out.Bytes())
	}

	c.open = true
	c.remoteID = senderChannel
	c.localID = 0
	_ = initWindow
	_ = maxPacket

	out := wire.New()
	out.WriteUint8(proto.MsgChannelOpenConfirm)
	out.WriteUint32(c.remoteID)
	out.WriteUint32(c.localID)
	out.WriteUint32(initWindow)
	out.WriteUint32(maxPacket)
	return c.sess.WritePacket(out.Bytes())
}

func (c *Connection) handleRequest(payload []byte) error {
	b := wire.NewFromBytes(payload)
	if _, err := b.ReadUint32(); err != nil { // recipient channel, always c.localID here
		return err
	}
	reqType, err := b.ReadString()
	if err != nil {
		return err
	}
	wantReply, err := b.ReadBool()
	if err != nil {
		return err
	}

	var status uint32
	var out []byte
	var runErr error

	switch reqType {
	case "exec":
		command, err := b.ReadString()
		if err != nil {
			return err
		}
		if c.exec == nil {
			runErr = errUnsupportedRequest
		} else {
			status, out, runErr = c.exec(command)
		}
	case "shell":
		status, out, runErr = 0, nil, nil
	default:
		runErr = errUnsupportedRequest
	}

	if !wantReply {
		if runErr == nil {
			c.sendData(out)
			c.sendExitStatus(status)
		}
		return nil
	}

	reply := wire.New()
	if runErr != nil {
		reply.WriteUint8(proto.MsgChannelFailure)
	} else {
		reply.WriteUint8(proto.MsgChannelSuccess)
	}
	reply.WriteUint32(c.remoteID)
	if err := c.sess.WritePacket(reply.Bytes()); err != nil {
		return err
	}
	if runErr == nil {
		c.sendData(out)
		c.sendExitStatus(status)
	}
	return nil
}

func (c *Connection) sendData(p []byte) {
	if len(p) == 0 {
		return
	}
	out := wire.New()
	out.WriteUint8(proto.MsgChannelData)
	out.WriteUint32(c.remoteID)
	out.WriteString(string(p))
	if err := c.sess.WritePacket(out.Bytes()); err != nil {
		logger.LogMessage("warn", "ssh-connection: failed writing channel data: %v", err)
	}
}

func (c *Connection) sendExitStatus(status uint32) {
	req := wire.New()
	req.WriteUint8(proto.MsgChannelRequest)
	req.WriteUint32(c.remoteID)
	req.WriteString("exit-status")
	req.WriteBool(false)
	req.WriteUint32(status)
	if err := c.sess.WritePacket(req.Bytes()); err != nil {
		logger.LogMessage("warn", "ssh-connection: failed writing exit-status: %v", err)
	}

	eof := wire.New()
	eof.WriteUint8(proto.MsgChannelEOF)
	eof.WriteUint32(c.remoteID)
	_ = c.sess.WritePacket(eof.Bytes())

	c.handleClose(nil)
}

func (c *Connection) handleClose(_ []byte) error {
	if !c.open {
		return nil
	}
	c.open = false
	out := wire.New()
	out.WriteUint8(proto.MsgChannelClose)
	out.WriteUint32(c.remoteID)
	return c.sess.WritePacket(out.Bytes())
}

func (c *Connection) sendUnimplemented() error {
	out := wire.New()
	out.WriteUint8(proto.MsgUnimplemented)
	out.WriteUint32(0)
	return c.sess.WritePacket(out.Bytes())
}

var errUnsupportedRequest = unsupportedRequestError{}

type unsupportedRequestError struct{}

func (unsupportedRequestError) Error() string { return "services: unsupported channel request" }

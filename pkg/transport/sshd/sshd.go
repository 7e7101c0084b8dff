// Package sshd terminates SSH connections and hands the sftp subsystem
// channel of each session to the session engine as an sftp.Channel. It is
// the concrete transport the engine's own package never depends on.
package sshd

import (
	"context"
	"io"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/nimbusfs/sftpd/internal/logger"
	"github.com/nimbusfs/sftpd/internal/protocol/sftp"
	"github.com/nimbusfs/sftpd/pkg/metrics"
)

// Server accepts TCP connections, performs the SSH handshake, and starts an
// sftp.Session for every "sftp" subsystem request it sees.
type Server struct {
	Config        *ssh.ServerConfig
	NewFilesystem func(conn *ssh.ServerConn) sftp.Filesystem
	Emitter       sftp.Emitter
	Metrics       *metrics.Metrics
}

// ListenAndServe accepts connections on addr until ctx is cancelled or the
// listener errors.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "sshd: listen on %s", addr)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Info("sshd: listening", "addr", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(err, "sshd: accept")
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.Config)
	if err != nil {
		logger.Warn("sshd: handshake failed", "error", err, "remote_addr", conn.RemoteAddr().String())
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	fs := s.NewFilesystem(sshConn)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		go s.handleSessionChannel(ctx, newChannel, sshConn, fs)
	}
}

func (s *Server) handleSessionChannel(ctx context.Context, newChannel ssh.NewChannel, sshConn *ssh.ServerConn, fs sftp.Filesystem) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		logger.Warn("sshd: channel accept failed", "error", err)
		return
	}
	defer channel.Close()

	for req := range requests {
		if req.Type != "subsystem" {
			_ = req.Reply(false, nil)
			continue
		}
		if !isSFTPSubsystem(req.Payload) {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		engine := sftp.NewSession(&channelAdapter{Channel: channel}, fs, s.Emitter).WithMetrics(s.Metrics)
		logger.Info("sshd: sftp session started",
			"session_id", engine.ID,
			"remote_addr", sshConn.RemoteAddr().String(),
			"user", sshConn.User())
		engine.Serve(ctx)
		return
	}
}

// isSFTPSubsystem decodes a subsystem request's string payload and reports
// whether it names "sftp".
func isSFTPSubsystem(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}
	n := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
	if n < 0 || 4+n > len(payload) {
		return false
	}
	return string(payload[4:4+n]) == "sftp"
}

// channelAdapter satisfies sftp.Channel over an ssh.Channel: SFTP already
// length-prefixes every packet, so Recv here need only frame-read that
// prefix and hand the caller the type+id+payload that follows.
type channelAdapter struct {
	ssh.Channel
}

func (c *channelAdapter) Recv() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.Channel, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, sftp.ErrChannelClosed
		}
		return nil, err
	}
	n := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.Channel, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *channelAdapter) Send(data []byte) error {
	// data is already length-prefixed by the writer; ssh.Channel.Write
	// handles arbitrary-sized writes internally.
	_, err := c.Channel.Write(data)
	return err
}

func (c *channelAdapter) Close() error {
	return c.Channel.Close()
}

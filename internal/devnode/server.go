package devnode

import (
	"context"
	"net"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/vdatab/canrm/internal/broadcast"
)

// Server listens on a Unix domain socket standing in for the original
// resource manager's device-node path, accepting one connection per
// OCB. Grounded on peak_can_res_mgr.cpp's resmgr_attach/
// dispatch_block/dispatch_handler loop, restructured in the style of
// the teacher's vcpu.go dispatch loop: one long-lived goroutine per
// connection instead of one thread per incoming message.
type Server struct {
	path   string
	ring   *broadcast.Ring
	writer Writer
	log    *logrus.Entry
}

// NewServer builds a Server that will listen at path once Serve runs.
func NewServer(path string, ring *broadcast.Ring, writer Writer, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{path: path, ring: ring, writer: writer, log: log}
}

// Serve listens at s.path and accepts connections until ctx is
// canceled. Any stale socket file left over from an unclean shutdown is
// removed first, matching the original's unlink-before-attach.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.path)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", s.path)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.WithField("path", s.path).Info("device node listening")

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}
		c := &conn{
			nc:     nc,
			ring:   s.ring,
			writer: s.writer,
			log:    s.log,
		}
		go c.serve(ctx)
	}
}

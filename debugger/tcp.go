package debugger

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"

	"edgevm/internal/rtlog"
	"edgevm/vm"
)

// tcpCommandTimeout bounds how long a single submitted command may take to
// produce a response before the bridge reports CommandTimeout, per spec.md
// §4.6's "external bridge ... receives ... with a timeout".
const tcpCommandTimeout = 10 * time.Second

// ListenAndServeTCP runs v under s, accepting a single debugger client
// connection at addr and servicing one newline-delimited command per line
// with a matching response line, until the VM finishes or the connection
// closes. It is the TCP analogue of RunStdio for an external bridge rather
// than a human terminal.
func ListenAndServeTCP(addr string, v *vm.VM, s *Session) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() { done <- v.RunWithDebugger(s) }()

	conn, err := ln.Accept()
	if err != nil {
		s.Close()
		<-done
		return err
	}
	defer conn.Close()
	rtlog.Info("debug %s: client attached from %s", s.ID, conn.RemoteAddr())

	reader := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)

	for reader.Scan() {
		select {
		case runErr := <-done:
			fmt.Fprintf(writer, "halted attached=false\n")
			writer.Flush()
			return runErr
		default:
		}

		cmd := strings.TrimSpace(reader.Text())
		if cmd == "" {
			continue
		}
		resp, err := s.Submit(cmd, tcpCommandTimeout)
		if err != nil {
			fmt.Fprintf(writer, "error attached=%v %v\n", resp.Attached, err)
		} else {
			fmt.Fprintf(writer, "ok attached=%v line=%d %s\n", resp.Attached, resp.CurrentLine, resp.Output)
		}
		writer.Flush()
	}

	s.Close()
	return <-done
}

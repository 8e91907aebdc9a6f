package eventsender

import (
	"fmt"
	. "gatekeep/wire"
	"net"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/jehiah/go-strftime"
)

// Logger is the companion process UDP sink that events are usually
// pointed at: it decodes the list-of-strings wire format Send writes
// and appends a pipe-delimited line per event to a rotating log file,
// grounded on the teacher's eventlogger.go. It is optional ambient
// tooling, not part of the client agent's own request path.
type Logger struct {
	mu      sync.Mutex
	log     *log.Entry
	file    *os.File
	conn    *net.UDPConn
	pattern string
}

// StartLogger opens a strftime-patterned log file and a UDP listener at
// bind, then services it in a background goroutine until Close is
// called.
func StartLogger(bind string, pattern string) (*Logger, error) {
	if pattern == "" {
		pattern = "events-%Y%m%d-%H%M%S.log"
	}

	l := &Logger{
		log:     log.WithFields(log.Fields{"name": "EventLogger"}),
		pattern: pattern,
	}

	if err := l.rotate(); err != nil {
		return nil, err
	}

	addr, err := net.ResolveUDPAddr("udp", bind)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	l.conn = conn

	go l.listen()
	return l, nil
}

func (l *Logger) rotate() error {
	name := strftime.Format(l.pattern, time.Now())
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("failed to open event log file: %w", err)
	}
	f.Truncate(0)
	f.Seek(0, 0)
	l.file = f
	return nil
}

func (l *Logger) listen() {
	buff := make([]byte, 4096)
	for {
		n, _, err := l.conn.ReadFromUDP(buff)
		if err != nil {
			return
		}

		dg := NewDatagram()
		dg.Write(buff[:n])
		l.writeEvent(dg)
	}
}

func (l *Logger) writeEvent(dg Datagram) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(DatagramIteratorEOF); ok {
				l.log.Error("received a truncated event datagram")
				return
			}
			panic(r)
		}
	}()

	dgi := NewDatagramIterator(&dg)
	count := dgi.ReadUint16()
	fields := make([]string, count)
	for i := range fields {
		fields[i] = dgi.ReadString()
	}

	line := strftime.Format("%Y-%m-%d %H:%M:%S%z", time.Now())
	for _, f := range fields {
		line += "|" + f
	}
	line += "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.WriteString(line); err != nil {
		l.log.Errorf("failed to write event log line: %s", err.Error())
		return
	}
	l.file.Sync()
}

func (l *Logger) Close() error {
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Sync()
		return l.file.Close()
	}
	return nil
}

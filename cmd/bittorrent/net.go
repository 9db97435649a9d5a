package main

import (
	"net"
	"time"

	"bittorrent/internal/btError"
)

// netConn is the minimal connection surface the command handlers need;
// satisfied by net.Conn.
type netConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func dialTCP(addr string, timeout time.Duration) (netConn, error) {
	conn, err := net.DialTimeout("tcp4", addr, timeout)
	if err != nil {
		return nil, btError.Wrap(btError.Io, "dialing peer", err)
	}
	return conn, nil
}

package events

import "github.com/nats-io/nats.go"

// Test-only helpers to keep existing test names while constructors are unexported.

func NewNATSBus(url string) (*NATSBus, error) {
	return newNATSBus(url)
}

func NewNATSBusWithConn(conn *nats.Conn) (*NATSBus, error) {
	return newNATSBusWithConn(conn)
}

func NewMemoryBus() *MemoryBus {
	return newMemoryBus()
}

package config

import (
	"fmt"
	"net"
	"os"
)

// GetHTTPAddress returns the admin HTTP server bind address
func (c *Config) GetHTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

// GetGRPCAddress returns the gRPC server bind address
func (c *Config) GetGRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}

// GetAdvertiseAddress returns the address other nodes should dial for gRPC.
// When the bind host is a wildcard, prefers the configured grpc_host, then
// a detected outbound interface address, then the hostname.
func (c *Config) GetAdvertiseAddress() string {
	host := c.Server.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		if c.Server.GRPCHost != "" {
			host = c.Server.GRPCHost
		} else if ip := detectOutboundIP(); ip != "" {
			host = ip
		} else if hostname, err := os.Hostname(); err == nil {
			host = hostname
		} else {
			host = "localhost"
		}
	}
	return fmt.Sprintf("%s:%d", host, c.Server.GRPCPort)
}

// detectOutboundIP finds the preferred outbound IP without sending packets
func detectOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return localAddr.IP.String()
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}

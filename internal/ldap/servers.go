package ldap

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Default LDAP ports.
const (
	DefaultLDAPPort  = 389
	DefaultLDAPSPort = 636
)

// ParseServers converts the configured server list into ServerInfo values,
// preserving order.
func ParseServers(servers []string, port int, useTLS bool) ([]*ServerInfo, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("at least one server must be specified")
	}

	parsed := make([]*ServerInfo, 0, len(servers))
	for _, s := range servers {
		server, err := ParseServer(s, port, useTLS)
		if err != nil {
			return nil, fmt.Errorf("invalid server %q: %w", s, err)
		}
		parsed = append(parsed, server)
	}

	return parsed, nil
}

// ParseServer parses a single server specification. Accepted forms are a bare
// host or IP, host:port, and ldap:// or ldaps:// URLs. A bare host takes the
// given port and TLS flag.
func ParseServer(addr string, port int, useTLS bool) (*ServerInfo, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("server cannot be empty")
	}

	if strings.Contains(addr, "://") {
		return ParseLDAPURL(addr)
	}

	host := addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
		host, port = h, n
	}

	server := &ServerInfo{
		Host:   strings.Trim(host, "[]"),
		Port:   port,
		UseTLS: useTLS,
		Source: "config",
	}

	return server, ValidateServerInfo(server)
}

// ParseLDAPURL parses an LDAP URL into ServerInfo.
func ParseLDAPURL(rawURL string) (*ServerInfo, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}

	server := &ServerInfo{
		Host:   u.Hostname(),
		Source: "url",
	}

	switch strings.ToLower(u.Scheme) {
	case "ldaps":
		server.UseTLS = true
		server.Port = DefaultLDAPSPort
	case "ldap":
		server.Port = DefaultLDAPPort
	default:
		return nil, fmt.Errorf("unsupported scheme, must be ldap:// or ldaps://")
	}

	if p := u.Port(); p != "" {
		server.Port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
	}

	return server, ValidateServerInfo(server)
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	if server == nil {
		return fmt.Errorf("server info cannot be nil")
	}

	if server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if strings.ContainsAny(server.Host, " /?#@") {
		return fmt.Errorf("invalid host: %q", server.Host)
	}

	if server.Port <= 0 || server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", server.Port)
	}

	return nil
}

// ServerInfoToURL converts ServerInfo to LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}

	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
}

/*
Package ldap provides the directory session used by the CSV exporter.

# Architecture Overview

The package is organized into a few core components:

  - Server parsing: hostnames, host:port pairs and ldap(s):// URLs become ServerInfo values
  - Server pool: first-active selection over an ordered server list
  - Client: a session handle bound to one identity, with paged search
  - Errors: categorized LDAPError values built from go-ldap result codes

# Server Pool

The pool tries servers in configured order and hands out the first one that
accepts a connection and a simple bind:

  - A server that fails is skipped for ExhaustWindow (60s by default)
  - When every server is exhausted a pass dials nothing; CycleDelay is slept between passes
  - At most ActiveCycles (3 by default) passes are made over the list
  - A rejected bind ends the attempt, since credentials are shared by every server

TLS is decided at dial time (ldaps://). StartTLS is never negotiated. The
connect timeout bounds the dial and is also applied to every request.

# Sessions

A Client starts unbound. Connect binds it, Rebind replaces its connection with
a freshly bound one, and Close releases it for good. Closed also reports true
once the underlying connection has dropped, which lets callers decide whether
a re-bind is worth attempting.

# Searching

SearchWithPaging drives the RFC 2696 paging control until the server returns
an empty cookie and hands back every page at once. Operational attributes are
requested with "+" when SearchRequest.Operational is set.

# Example Usage

	config := ldap.DefaultConfig()
	config.Servers = []string{"dc1.example.com", "dc2.example.com"}
	config.Username = "CN=reader,OU=Service,DC=example,DC=com"
	config.Password = password

	client, err := ldap.NewClient(ctx, config)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	result, err := client.SearchWithPaging(ctx, &ldap.SearchRequest{
		BaseDN:     "DC=example,DC=com",
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     "(&(objectClass=user)(!(objectClass=computer)))",
		Attributes: []string{"sAMAccountName", "cn"},
		TimeLimit:  10 * time.Second,
	})
*/
package ldap

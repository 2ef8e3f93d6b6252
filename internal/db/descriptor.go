package db

import (
	"net/url"
	"strings"
)

// Environment names a deployment target. Any non-empty name is valid; the
// constants below are only the names the tool ships examples for.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// DefaultDriver is used when a Descriptor leaves Driver empty.
const DefaultDriver = "sqlserver"

// Descriptor says how to reach one database instance.
// DSN is handed to the driver untouched; it may carry credentials and must
// never be logged.
type Descriptor struct {
	Driver string
	DSN    string
}

func (d Descriptor) DriverName() string {
	if d.Driver == "" {
		return DefaultDriver
	}
	return strings.ToLower(d.Driver)
}

// String identifies the descriptor without leaking credentials: the driver
// name plus the host when the DSN is URL shaped.
func (d Descriptor) String() string {
	name := d.DriverName()
	if host := dsnHost(d.DSN); host != "" {
		return name + "://" + host
	}
	return name
}

func dsnHost(dsn string) string {
	if !strings.Contains(dsn, "://") {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return u.Host
}

// Package observability holds the opt-in tracing setup.
package observability

import "strings"

// ServiceName identifies this process in traces and log fields.
const ServiceName = "vitals-server"

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	OTelEndpoint     string `env:"VITALS_OTEL_ENDPOINT"`
	OTelEnabled      string `env:"VITALS_OTEL_ENABLED"`
	EnablePprofTrace bool   `env:"VITALS_PPROF_TRACE" envDefault:"false"`
}

// Enabled reports whether tracing should be exported: an endpoint is set and
// tracing was not explicitly switched off.
func (c Config) Enabled() bool {
	if strings.EqualFold(strings.TrimSpace(c.OTelEnabled), "false") {
		return false
	}
	return strings.TrimSpace(c.OTelEndpoint) != ""
}

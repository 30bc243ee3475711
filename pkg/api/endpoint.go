// Ingest endpoint selection: named regions plus custom base URL override
package api

// Endpoint selects where one data kind is delivered. The zero value is
// the US region. Region endpoints resolve to the vendor's fixed ingest
// hosts; a custom endpoint overrides the base URL and keeps the
// per-kind path.
type Endpoint struct {
	region string
	base   string
}

// EndpointUS is the default US-region ingest endpoint.
var EndpointUS = Endpoint{}

// EndpointEU is the EU-region ingest endpoint.
var EndpointEU = Endpoint{region: "eu"}

// CustomEndpoint delivers to base instead of a named region. base must
// not carry a trailing slash.
func CustomEndpoint(base string) Endpoint {
	return Endpoint{base: base}
}

// logURL resolves the log-stream POST target.
func (e Endpoint) logURL() string {
	switch {
	case e.base != "":
		return e.base + "/log/v1"
	case e.region == "eu":
		return "https://log-api.eu.newrelic.com/log/v1"
	default:
		return "https://log-api.newrelic.com/log/v1"
	}
}

// traceURL resolves the span-stream POST target.
func (e Endpoint) traceURL() string {
	switch {
	case e.base != "":
		return e.base + "/trace/v1"
	case e.region == "eu":
		return "https://trace-api.eu.newrelic.com/trace/v1"
	default:
		return "https://trace-api.newrelic.com/trace/v1"
	}
}

// Tests for region and custom endpoint URL resolution
package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointURLs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://log-api.newrelic.com/log/v1", EndpointUS.logURL())
	assert.Equal(t, "https://trace-api.newrelic.com/trace/v1", EndpointUS.traceURL())
	assert.Equal(t, "https://log-api.eu.newrelic.com/log/v1", EndpointEU.logURL())
	assert.Equal(t, "https://trace-api.eu.newrelic.com/trace/v1", EndpointEU.traceURL())

	custom := CustomEndpoint("http://localhost:8080")
	assert.Equal(t, "http://localhost:8080/log/v1", custom.logURL())
	assert.Equal(t, "http://localhost:8080/trace/v1", custom.traceURL())
}

func TestZeroEndpointIsUS(t *testing.T) {
	t.Parallel()

	var e Endpoint
	assert.Equal(t, EndpointUS.logURL(), e.logURL())
	assert.Equal(t, EndpointUS.traceURL(), e.traceURL())
}

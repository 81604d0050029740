package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()

	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.NotEmpty(t, cfg.CipherSuites)

	// Every accepted suite must be in the AEAD allowlist.
	allowed := make(map[uint16]bool, len(aeadCipherSuites))
	for _, cs := range aeadCipherSuites {
		allowed[cs] = true
	}
	for _, cs := range cfg.CipherSuites {
		assert.True(t, allowed[cs], "cipher suite %#x not in AEAD allowlist", cs)
	}
}

func TestDefaultTLSConfig_IndependentCopies(t *testing.T) {
	a := DefaultTLSConfig()
	b := DefaultTLSConfig()

	a.CipherSuites[0] = 0
	assert.NotEqual(t, a.CipherSuites[0], b.CipherSuites[0],
		"configs must not share the suite slice")
}

func TestSecureTransport(t *testing.T) {
	tr := SecureTransport()

	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, 10*time.Second, tr.TLSHandshakeTimeout)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)

	assert.Equal(t, 15*time.Second, client.Timeout)
	require.NotNil(t, client.Transport)

	tr, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, tr.TLSClientConfig)
}

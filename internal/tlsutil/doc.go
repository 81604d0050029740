// Package tlsutil centralizes hardened TLS settings for the HTTP
// clients and servers in leadflow: TLS 1.2 minimum, AEAD cipher
// suites only.
package tlsutil

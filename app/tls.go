package huddle

import "crypto/tls"

// https://github.com/ssllabs/research/wiki/ssl-and-tls-deployment-best-practices
var defaultTLSConfig = tls.Config{
	MinVersion: tls.VersionTLS12,
	CurvePreferences: []tls.CurveID{
		tls.X25519,
		tls.CurveP384,
		tls.CurveP256,
	},
	// TLS 1.3 suites are not configurable; these apply to 1.2 only.
	CipherSuites: []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	},
}

// tlsConfig returns a copy of the server TLS settings.
func tlsConfig() *tls.Config {
	return defaultTLSConfig.Clone()
}

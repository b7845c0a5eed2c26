package identity

import (
    "crypto/ed25519"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "crypto/x509/pkix"
    "errors"
    "fmt"
    "math/big"
    "net"
    "os"
    "time"

    "ttsock/pkg/config"
)

// SelfSignedCert issues a short-lived certificate for priv covering hosts
// (DNS names or IPs). The certificate carries the ed25519 key so peers can
// derive our canonical id from it.
func SelfSignedCert(priv ed25519.PrivateKey, hosts ...string) (tls.Certificate, error) {
    if len(hosts) == 0 { hosts = []string{"localhost", "127.0.0.1", "::1"} }
    serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber: serial,
        Subject:      pkix.Name{CommonName: hosts[0]},
        NotBefore:    time.Now().Add(-time.Minute),
        NotAfter:     time.Now().Add(24 * time.Hour),
        KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
        ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        IsCA:         true,
    }
    for _, h := range hosts {
        if ip := net.ParseIP(h); ip != nil {
            tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
        } else {
            tmpl.DNSNames = append(tmpl.DNSNames, h)
        }
    }
    pub := priv.Public().(ed25519.PublicKey)
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, pub, priv)
    if err != nil { return tls.Certificate{}, err }
    leaf, err := x509.ParseCertificate(der)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}, nil
}

// CertPool returns a pool trusting the leaf certificates of certs.
func CertPool(certs ...tls.Certificate) *x509.CertPool {
    pool := x509.NewCertPool()
    for _, c := range certs {
        if c.Leaf != nil {
            pool.AddCert(c.Leaf)
            continue
        }
        if len(c.Certificate) > 0 {
            if leaf, err := x509.ParseCertificate(c.Certificate[0]); err == nil { pool.AddCert(leaf) }
        }
    }
    return pool
}

// TLSConfig builds one tls.Config usable for both roles: the socket picks
// client or server when its handshake runs. Without cert files the
// certificate is self-signed from priv.
func TLSConfig(c config.TLSConfig, priv ed25519.PrivateKey) (*tls.Config, error) {
    var cert tls.Certificate
    var err error
    if c.CertFile != "" {
        cert, err = tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
    } else {
        if priv == nil { return nil, errors.New("identity: no certificate and no identity key") }
        hosts := []string{"localhost", "127.0.0.1", "::1"}
        if c.ServerName != "" && c.ServerName != "localhost" { hosts = append([]string{c.ServerName}, hosts...) }
        cert, err = SelfSignedCert(priv, hosts...)
    }
    if err != nil { return nil, fmt.Errorf("identity: certificate: %w", err) }

    tc := &tls.Config{
        Certificates:       []tls.Certificate{cert},
        ServerName:         c.ServerName,
        InsecureSkipVerify: c.InsecureSkipVerify,
        NextProtos:         c.ALPN,
        MinVersion:         tls.VersionTLS12,
    }
    if c.CAFile != "" {
        pem, err := os.ReadFile(c.CAFile)
        if err != nil { return nil, fmt.Errorf("identity: ca_file: %w", err) }
        pool := x509.NewCertPool()
        if !pool.AppendCertsFromPEM(pem) { return nil, fmt.Errorf("identity: ca_file %s holds no certificates", c.CAFile) }
        tc.RootCAs = pool
    }
    return tc, nil
}

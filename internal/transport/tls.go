package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

// CertManager holds the coordinator-or-task-manager's long-term identity:
// an ECDSA P-256 keypair and a self-signed certificate, persisted under a
// state directory and regenerated on first run or expiry. Every process
// in a flowmod deployment trusts every other process's certificate by
// fingerprint, configured out of band — there is no interactive
// peer-approval step here.
type CertManager struct {
	mu sync.RWMutex

	privateKey  *ecdsa.PrivateKey
	certificate *x509.Certificate
	certPEM     []byte

	certPath string
	keyPath  string
	log      *zap.Logger
}

// NewCertManager loads or generates the identity keypair under
// stateDir/certs. stateDir defaults to ~/.flowmod when empty.
func NewCertManager(log *zap.Logger, stateDir string) (*CertManager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("transport: resolve home directory: %w", err)
		}
		stateDir = filepath.Join(home, ".flowmod")
	}
	certDir := filepath.Join(stateDir, "certs")
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return nil, fmt.Errorf("transport: create cert directory: %w", err)
	}

	cm := &CertManager{
		certPath: filepath.Join(certDir, "identity.crt"),
		keyPath:  filepath.Join(certDir, "identity.key"),
		log:      log,
	}
	if err := cm.loadOrGenerate(); err != nil {
		return nil, fmt.Errorf("transport: initialize identity: %w", err)
	}
	log.Info("transport identity ready", zap.String("fingerprint", cm.Fingerprint()))
	return cm, nil
}

func (cm *CertManager) loadOrGenerate() error {
	if _, err := os.Stat(cm.certPath); os.IsNotExist(err) {
		cm.log.Info("generating new transport identity")
		return cm.generateAndSave()
	}

	certPEM, err := os.ReadFile(cm.certPath)
	if err != nil {
		return fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(cm.keyPath)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return fmt.Errorf("parse certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("parse private key PEM")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}

	if time.Now().After(cert.NotAfter) {
		cm.log.Warn("transport identity expired, regenerating")
		return cm.generateAndSave()
	}

	cm.certificate = cert
	cm.privateKey = key
	cm.certPEM = certPEM
	return nil
}

func (cm *CertManager) generateAndSave() error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"flowmod"},
			CommonName:   "flowmod-control-plane",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("parse created certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	certTmp, keyTmp := cm.certPath+".tmp", cm.keyPath+".tmp"
	if err := os.WriteFile(certTmp, certPEM, 0600); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(keyTmp, keyPEM, 0600); err != nil {
		os.Remove(certTmp)
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.Rename(certTmp, cm.certPath); err != nil {
		os.Remove(certTmp)
		os.Remove(keyTmp)
		return fmt.Errorf("rename certificate: %w", err)
	}
	if err := os.Rename(keyTmp, cm.keyPath); err != nil {
		os.Remove(keyTmp)
		return fmt.Errorf("rename private key: %w", err)
	}

	cm.certificate = cert
	cm.privateKey = key
	cm.certPEM = certPEM
	return nil
}

// Fingerprint is the hex SHA-256 digest of the DER certificate, used both
// for logging and as the trust key in TrustStore.
func (cm *CertManager) Fingerprint() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.certificate == nil {
		return ""
	}
	sum := sha256.Sum256(cm.certificate.Raw)
	return hex.EncodeToString(sum[:])
}

// TrustStore is the set of fingerprints a side of the connection accepts,
// checked by VerifyPeerCertificate since every certificate here is
// self-signed and carries no CA chain worth validating.
type TrustStore struct {
	mu    sync.RWMutex
	trust map[string]struct{}
}

// NewTrustStore builds a store seeded with the given fingerprints.
func NewTrustStore(fingerprints ...string) *TrustStore {
	ts := &TrustStore{trust: make(map[string]struct{}, len(fingerprints))}
	for _, fp := range fingerprints {
		ts.trust[fp] = struct{}{}
	}
	return ts
}

// Add records fp as trusted.
func (ts *TrustStore) Add(fp string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.trust[fp] = struct{}{}
}

// IsTrusted reports whether fp was ever added. An empty store trusts
// everyone, the permissive default for single-operator deployments that
// have not populated an allowlist.
func (ts *TrustStore) IsTrusted(fp string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	if len(ts.trust) == 0 {
		return true
	}
	_, ok := ts.trust[fp]
	return ok
}

// ServerTLSConfig returns the coordinator-side TLS configuration: mutual
// auth required, any self-signed client certificate accepted at the
// handshake layer and then checked against trust by fingerprint.
func (cm *CertManager) ServerTLSConfig(trust *TrustStore) (*tls.Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.certificate == nil {
		return nil, fmt.Errorf("transport: identity not initialized")
	}
	cert := tls.Certificate{
		Certificate: [][]byte{cm.certificate.Raw},
		PrivateKey:  cm.privateKey,
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		ClientAuth:   tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyTrusted(rawCerts, trust)
		},
	}, nil
}

// ClientTLSConfig returns the task-manager-side TLS configuration,
// verifying the coordinator's certificate by fingerprint instead of by
// chain, since both sides only ever present self-signed certificates.
func (cm *CertManager) ClientTLSConfig(trust *TrustStore) (*tls.Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.certificate == nil {
		return nil, fmt.Errorf("transport: identity not initialized")
	}
	cert := tls.Certificate{
		Certificate: [][]byte{cm.certificate.Raw},
		PrivateKey:  cm.privateKey,
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true, // custom verification below replaces chain validation
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyTrusted(rawCerts, trust)
		},
	}, nil
}

func verifyTrusted(rawCerts [][]byte, trust *TrustStore) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("transport: peer presented no certificate")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("transport: parse peer certificate: %w", err)
	}
	if time.Now().After(cert.NotAfter) {
		return fmt.Errorf("transport: peer certificate expired at %s", cert.NotAfter)
	}
	sum := sha256.Sum256(cert.Raw)
	fp := hex.EncodeToString(sum[:])
	if !trust.IsTrusted(fp) {
		return fmt.Errorf("transport: peer fingerprint %s not trusted", fp)
	}
	return nil
}

// authTokenInfo is the HKDF info string distinguishing the control-
// stream auth token from any other secret ever derived from the same
// long-term key.
const authTokenInfo = "flowmod-control-stream-auth-v1"

// DeriveAuthToken derives a 32-byte control-stream authentication token
// from a shared long-term secret and a per-connection salt, the same
// HKDF-SHA256 construction, same shape as deriving a peer session key
// from a shared secret.
func DeriveAuthToken(sharedSecret, salt []byte) ([]byte, error) {
	if len(sharedSecret) == 0 {
		return nil, fmt.Errorf("transport: shared secret must not be empty")
	}
	reader := hkdf.New(sha256.New, sharedSecret, salt, []byte(authTokenInfo))
	token := make([]byte, 32)
	if _, err := reader.Read(token); err != nil {
		return nil, fmt.Errorf("transport: derive auth token: %w", err)
	}
	return token, nil
}

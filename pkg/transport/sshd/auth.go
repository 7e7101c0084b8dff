package sshd

import (
	"crypto/rand"
	"crypto/rsa"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/nimbusfs/sftpd/internal/logger"
)

// BuildServerConfig assembles an *ssh.ServerConfig from host key files and an
// authorized_keys file. Missing hostKeyPaths trigger generation of an
// ephemeral in-memory host key, logged at warn level since its fingerprint
// will not survive a restart.
func BuildServerConfig(hostKeyPaths []string, authorizedKeysPath string) (*ssh.ServerConfig, error) {
	authorized, err := loadAuthorizedKeys(authorizedKeysPath)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			fp := ssh.FingerprintSHA256(key)
			if _, ok := authorized[string(key.Marshal())]; !ok {
				return nil, errors.Errorf("unauthorized public key: %s", fp)
			}
			return &ssh.Permissions{Extensions: map[string]string{"pubkey-fp": fp}}, nil
		},
	}

	signers, err := loadHostKeys(hostKeyPaths)
	if err != nil {
		return nil, err
	}
	for _, signer := range signers {
		cfg.AddHostKey(signer)
	}
	return cfg, nil
}

func loadAuthorizedKeys(path string) (map[string]bool, error) {
	allowed := map[string]bool{}
	if path == "" {
		logger.Warn("sshd: no authorized_keys configured, all public-key auth will be rejected")
		return allowed, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sshd: read authorized_keys %q", path)
	}
	for len(data) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			break
		}
		allowed[string(key.Marshal())] = true
		data = rest
	}
	return allowed, nil
}

func loadHostKeys(paths []string) ([]ssh.Signer, error) {
	if len(paths) == 0 {
		signer, err := generateEphemeralHostKey()
		if err != nil {
			return nil, err
		}
		logger.Warn("sshd: no host keys configured, generated an ephemeral one",
			"fingerprint", ssh.FingerprintSHA256(signer.PublicKey()))
		return []ssh.Signer{signer}, nil
	}

	signers := make([]ssh.Signer, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "sshd: read host key %q", p)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, errors.Wrapf(err, "sshd: parse host key %q", p)
		}
		signers = append(signers, signer)
	}
	return signers, nil
}

func generateEphemeralHostKey() (ssh.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "sshd: generate ephemeral host key")
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "sshd: wrap ephemeral host key")
	}
	return signer, nil
}

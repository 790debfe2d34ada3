package client

import (
	"fmt"
	"os"

	cryptossh "golang.org/x/crypto/ssh"
)

// authMethodFromConfig builds the SSH auth method from Config. Authentication
// is one-shot: a rejected credential surfaces as an error with no retry.
func authMethodFromConfig(cfg Config) (cryptossh.AuthMethod, error) {
	switch cfg.AuthType {
	case AuthPassword:
		return cryptossh.Password(cfg.Password), nil
	case AuthPrivateKey, "key":
		if len(cfg.PrivateKey) > 0 {
			return publicKeyAuth(cfg.PrivateKey, cfg.Passphrase, "inline")
		}
		return publicKeyFile(cfg.PrivateKeyPath, cfg.Passphrase)
	default:
		return nil, fmt.Errorf("unsupported auth_type: %q", cfg.AuthType)
	}
}

// publicKeyFile loads and parses a PEM private key, decrypting it with
// passphrase when one is given. An unreadable file, a bad passphrase, and a
// malformed key all surface the same way: as an auth config error.
func publicKeyFile(path, passphrase string) (cryptossh.AuthMethod, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	return publicKeyAuth(data, passphrase, path)
}

func publicKeyAuth(pemData []byte, passphrase, origin string) (cryptossh.AuthMethod, error) {
	var (
		signer cryptossh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = cryptossh.ParsePrivateKeyWithPassphrase(pemData, []byte(passphrase))
	} else {
		signer, err = cryptossh.ParsePrivateKey(pemData)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", origin, err)
	}
	return cryptossh.PublicKeys(signer), nil
}

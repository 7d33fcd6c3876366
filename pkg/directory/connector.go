package directory

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

// LDAPConnector dials the configured servers in order and binds.
type LDAPConnector struct {
	cfg    config.DirectoryConfig
	logger *zap.Logger
}

func NewLDAPConnector(cfg config.DirectoryConfig, logger *zap.Logger) *LDAPConnector {
	return &LDAPConnector{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "directory")),
	}
}

func (c *LDAPConnector) Connect(ctx context.Context) (Client, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	pageSize := 0
	if c.cfg.PagingEnabled() {
		pageSize = c.cfg.PageSize
	}
	deref := ldap.NeverDerefAliases
	if c.cfg.DerefAliases == "always" {
		deref = ldap.DerefAlways
	}

	return newLDAPClient(conn, c.dial, pageSize, deref, c.cfg.Timeout, c.logger), nil
}

func (c *LDAPConnector) dial(ctx context.Context) (ldapConn, error) {
	tlsConfig, err := c.tlsConfig()
	if err != nil {
		return nil, err
	}

	var conn *ldap.Conn
	op := func() error {
		var lastErr error
		for _, url := range c.cfg.URLs {
			conn, lastErr = c.dialURL(url, tlsConfig)
			if lastErr == nil {
				return nil
			}
			c.logger.Warn("Failed to connect to directory server",
				zap.String("url", url),
				zap.Error(lastErr))
			if ldap.IsErrorWithCode(lastErr, ldap.LDAPResultInvalidCredentials) {
				return backoff.Permanent(lastErr)
			}
		}
		if lastErr == nil {
			lastErr = errors.New("no directory url configured")
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.ConnectRetries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *LDAPConnector) dialURL(url string, tlsConfig *tls.Config) (*ldap.Conn, error) {
	conn, err := ldap.DialURL(url,
		ldap.DialWithDialer(&net.Dialer{Timeout: c.cfg.Timeout}),
		ldap.DialWithTLSConfig(tlsConfig),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if c.cfg.Timeout > 0 {
		conn.SetTimeout(c.cfg.Timeout)
	}

	if c.cfg.StartTLS && !strings.HasPrefix(strings.ToLower(url), "ldaps://") {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if c.cfg.BindDN != "" {
		if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to bind as %s: %w", c.cfg.BindDN, err)
		}
	}
	return conn, nil
}

func (c *LDAPConnector) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if c.cfg.CAFile == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(c.cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", c.cfg.CAFile)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package tixnet

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/elcapor/tix/internal/pki"
)

// DialTLS dials the control connection over mutual TLS, built from the
// agent's configured certificate material. It is an optional alternative
// to a plain net.Dial, kept alongside it rather than replacing it — see
// §14's non-goals carried forward.
func DialTLS(ctx context.Context, address, caCertPath, clientCertPath, clientKeyPath string, timeout time.Duration) (net.Conn, error) {
	tlsCfg, err := pki.NewClientTLSConfig(caCertPath, clientCertPath, clientKeyPath)
	if err != nil {
		return nil, err
	}
	dialer := tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}, Config: tlsCfg}
	return dialer.DialContext(ctx, "tcp", address)
}

// ListenTLS opens the controller's agent-facing listener over mutual TLS,
// requiring and verifying an agent certificate on every accept.
func ListenTLS(address, clientCACertPath, serverCertPath, serverKeyPath string) (net.Listener, error) {
	tlsCfg, err := pki.NewServerTLSConfig(clientCACertPath, serverCertPath, serverKeyPath)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", address, tlsCfg)
}

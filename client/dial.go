package client

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	pkgerrors "github.com/pkg/errors"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// ErrConnectRefused occurs when the server answers CONNECT with ERROR.
var ErrConnectRefused = errors.New("client: connect refused")

// Dial connects to the STOMP server at addr ("host:port") and completes the
// handshake.  WithTLS selects TLS and WithDialer supplies the dialer.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	dialer := o.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	//
	var conn net.Conn
	var err error
	if o.TLSConfig != nil {
		d := tls.Dialer{
			NetDialer: dialer,
			Config:    o.TLSConfig,
		}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "client: dial %v", addr)
	}
	//
	if o.Host == "" {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		opts = append(opts, WithHost(host))
	}
	c := New(&stomp.Peer{R: conn, W: conn}, opts...)
	if err = c.Connect(ctx); err != nil {
		return nil, pkgerrors.Wrapf(err, "client: connect %v", addr)
	}
	return c, nil
}

package vsphere

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"
)

var errHostLogin = errors.New("host rejected vSAN login")

// soapHostConn talks to the vSAN endpoint of one ESX host. The session is
// re-established with the shared secret when the host drops it.
type soapHostConn struct {
	logger   *zap.Logger
	hostname string
	token    string
	client   *soap.Client

	mu sync.Mutex
}

func dialHost(ctx context.Context, logger *zap.Logger, hostname, token string, insecure bool) (*soapHostConn, error) {
	u := &url.URL{Scheme: "https", Host: hostname, Path: hostVsanPath}
	client := soap.NewClient(u, insecure)
	client.Namespace = hostVsanNamespace
	client.Version = hostVsanVersion

	conn := &soapHostConn{
		logger:   logger,
		hostname: hostname,
		token:    token,
		client:   client,
	}
	if err := conn.login(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (h *soapHostConn) login(ctx context.Context) error {
	body := vsanPerfLoginBody{Req: &vsanPerfLoginRequest{This: perfManagerRef, Token: h.token}}
	if err := h.client.RoundTrip(ctx, &body, &body); err != nil {
		return fmt.Errorf("failed to log into host %s: %w", h.hostname, err)
	}
	if body.Res == nil || !body.Res.Returnval {
		h.logger.Error("Host failed to authenticate", zap.String("hostname", h.hostname))
		return fmt.Errorf("%w: %s", errHostLogin, h.hostname)
	}
	h.logger.Info("Host authenticated successfully", zap.String("hostname", h.hostname))
	return nil
}

func (h *soapHostConn) capture(ctx context.Context) (string, error) {
	body := captureInternalStatsBody{Req: &captureInternalStatsRequest{This: statsProvider}}
	if err := h.client.RoundTrip(ctx, &body, &body); err != nil {
		return "", err
	}
	if body.Res == nil {
		return "", fmt.Errorf("empty stats response from host %s", h.hostname)
	}
	return body.Res.Returnval, nil
}

// FetchStats calls CaptureInternalStats, logging in again once if the
// session has expired.
func (h *soapHostConn) FetchStats(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	doc, err := h.capture(ctx)
	if isFault[types.NotAuthenticated](err) {
		h.logger.Info("Host session expired, logging in again", zap.String("hostname", h.hostname))
		if err := h.login(ctx); err != nil {
			return nil, err
		}
		doc, err = h.capture(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to capture internal stats of host %s: %w", h.hostname, err)
	}
	return []byte(doc), nil
}

func (h *soapHostConn) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

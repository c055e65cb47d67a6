package lndclient

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"lnadvisor/internal/config"
	"lnadvisor/internal/stats"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const (
	maxGRPCMsgSize = 32 * 1024 * 1024
	infoCacheTTL   = 30 * time.Second
)

// Client wraps the LND gRPC surface the advisor needs: the snapshot fetchers,
// the event subscriptions and payment housekeeping. Connections are dialed
// per operation and closed when it completes.
type Client struct {
	cfg    *config.Config
	logger *log.Logger

	infoMu      sync.Mutex
	infoCache   NodeInfo
	infoCacheAt time.Time
}

// NodeInfo identifies the node the client is connected to.
type NodeInfo struct {
	Pubkey string
	Alias  string
}

func New(cfg *config.Config, logger *log.Logger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

type macaroonCredential struct {
	macaroon string
}

func (m macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
	return true
}

func (c *Client) dial(ctx context.Context) (*grpc.ClientConn, error) {
	tlsCert, err := os.ReadFile(c.cfg.LND.TLSCertPath)
	if err != nil {
		return nil, err
	}
	certPool := x509.NewCertPool()
	if ok := certPool.AppendCertsFromPEM(tlsCert); !ok {
		return nil, fmt.Errorf("failed to parse LND TLS cert")
	}

	creds := credentials.NewClientTLSFromCert(certPool, "")
	macBytes, err := os.ReadFile(c.cfg.LND.MacaroonPath)
	if err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxGRPCMsgSize)),
		grpc.WithPerRPCCredentials(macaroonCredential{hex.EncodeToString(macBytes)}),
	}
	return grpc.DialContext(ctx, c.cfg.LND.Address(), opts...)
}

// GetNodeInfo returns the node identity, cached briefly: the advisor asks on
// every refresh and the answer never changes between restarts.
func (c *Client) GetNodeInfo(ctx context.Context) (NodeInfo, error) {
	c.infoMu.Lock()
	if time.Since(c.infoCacheAt) < infoCacheTTL && c.infoCache.Pubkey != "" {
		info := c.infoCache
		c.infoMu.Unlock()
		return info, nil
	}
	c.infoMu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return NodeInfo{}, err
	}
	defer conn.Close()

	resp, err := lnrpc.NewLightningClient(conn).GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return NodeInfo{}, err
	}
	info := NodeInfo{Pubkey: resp.IdentityPubkey, Alias: resp.Alias}

	c.infoMu.Lock()
	c.infoCache = info
	c.infoCacheAt = time.Now()
	c.infoMu.Unlock()
	return info, nil
}

// ListChannels returns the properties of every open channel, including the
// local policy (fee rate, base fee) and the peer's rate towards us from the
// channel graph.
func (c *Client) ListChannels(ctx context.Context) ([]stats.ChannelProperties, error) {
	info, err := c.GetNodeInfo(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	client := lnrpc.NewLightningClient(conn)
	resp, err := client.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	props := make([]stats.ChannelProperties, 0, len(resp.Channels))
	for _, ch := range resp.Channels {
		if ch == nil || ch.ChanId == 0 {
			continue
		}
		p := stats.ChannelProperties{
			ID:              ChannelID(ch.ChanId),
			CapacitySat:     ch.Capacity,
			LocalBalanceSat: ch.LocalBalance,
			OpenedAt:        now.Add(-time.Duration(ch.Lifetime) * time.Second),
		}

		if edge, err := client.GetChanInfo(ctx, &lnrpc.ChanInfoRequest{ChanId: ch.ChanId}); err == nil && edge != nil {
			local, remote := edge.Node1Policy, edge.Node2Policy
			if edge.Node1Pub != info.Pubkey {
				local, remote = remote, local
			}
			if local != nil {
				p.FeeRatePpm = local.FeeRateMilliMsat
				p.BaseFeeMsat = local.FeeBaseMsat
			}
			if remote != nil {
				rate := remote.FeeRateMilliMsat
				p.PartnerFeeRatePpm = &rate
			}
		} else if err != nil {
			c.logger.Printf("lnd: chan info for %d unavailable: %v", ch.ChanId, err)
		}

		if node, err := client.GetNodeInfo(ctx, &lnrpc.NodeInfoRequest{PubKey: ch.RemotePubkey}); err == nil && node.GetNode() != nil {
			p.PartnerAlias = node.GetNode().Alias
		}

		props = append(props, p)
	}
	return props, nil
}

// DeleteFailedPayment removes one failed payment from the node's database.
func (c *Client) DeleteFailedPayment(ctx context.Context, paymentHashHex string) error {
	hash, err := hex.DecodeString(paymentHashHex)
	if err != nil {
		return fmt.Errorf("payment hash %q: %w", paymentHashHex, err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = lnrpc.NewLightningClient(conn).DeletePayment(ctx, &lnrpc.DeletePaymentRequest{
		PaymentHash: hash,
	})
	return err
}

// ChannelID renders LND's compact channel id the way the advisor keys
// channels everywhere.
func ChannelID(chanID uint64) string {
	return strconv.FormatUint(chanID, 10)
}

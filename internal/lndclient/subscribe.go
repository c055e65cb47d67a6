package lndclient

import (
	"context"
	"io"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
)

// SubscribeChannelEvents blocks pumping channel open/close events into
// notify until the stream breaks or the context ends. The caller owns
// reconnects and backoff.
func (c *Client) SubscribeChannelEvents(ctx context.Context, notify func()) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stream, err := lnrpc.NewLightningClient(conn).SubscribeChannelEvents(ctx, &lnrpc.ChannelEventSubscription{})
	if err != nil {
		return err
	}
	for {
		event, err := stream.Recv()
		if err != nil {
			return streamErr(err)
		}
		switch event.GetType() {
		case lnrpc.ChannelEventUpdate_OPEN_CHANNEL, lnrpc.ChannelEventUpdate_CLOSED_CHANNEL:
			notify()
		}
	}
}

// SubscribeForwards blocks pumping settled forwards into notify. LND exposes
// forwards through the HTLC event stream; only settled forward events count.
func (c *Client) SubscribeForwards(ctx context.Context, notify func()) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stream, err := routerrpc.NewRouterClient(conn).SubscribeHtlcEvents(ctx, &routerrpc.SubscribeHtlcEventsRequest{})
	if err != nil {
		return err
	}
	for {
		event, err := stream.Recv()
		if err != nil {
			return streamErr(err)
		}
		if event.GetEventType() != routerrpc.HtlcEvent_FORWARD {
			continue
		}
		if event.GetSettleEvent() == nil && !event.GetFinalHtlcEvent().GetSettled() {
			continue
		}
		notify()
	}
}

// SubscribePayments blocks pumping completed outbound payments into notify.
func (c *Client) SubscribePayments(ctx context.Context, notify func()) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stream, err := routerrpc.NewRouterClient(conn).TrackPayments(ctx, &routerrpc.TrackPaymentsRequest{
		NoInflightUpdates: true,
	})
	if err != nil {
		return err
	}
	for {
		payment, err := stream.Recv()
		if err != nil {
			return streamErr(err)
		}
		switch payment.GetStatus() {
		case lnrpc.Payment_SUCCEEDED, lnrpc.Payment_FAILED:
			notify()
		}
	}
}

func streamErr(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

package lndclient

import (
	"context"
	"strings"
	"time"

	"lnadvisor/internal/stats"

	"github.com/lightningnetwork/lnd/lnrpc"
)

const (
	forwardingPageSize = 50000
	paymentsPageSize   = 500
)

// FailedPayment identifies a failed historical payment for housekeeping.
type FailedPayment struct {
	HashHex   string
	CreatedAt time.Time
}

// FetchForwards pages through the forwarding history between after and
// before (inclusive).
func (c *Client) FetchForwards(ctx context.Context, after, before time.Time) ([]stats.Forward, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	client := lnrpc.NewLightningClient(conn)

	var offset uint32
	var forwards []stats.Forward
	for {
		resp, err := client.ForwardingHistory(ctx, &lnrpc.ForwardingHistoryRequest{
			StartTime:    uint64(after.Unix()),
			EndTime:      uint64(before.Unix()),
			IndexOffset:  offset,
			NumMaxEvents: forwardingPageSize,
		})
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.ForwardingEvents) == 0 {
			break
		}

		for _, evt := range resp.ForwardingEvents {
			if evt == nil {
				continue
			}
			forwards = append(forwards, stats.Forward{
				Time:       forwardTimestamp(evt),
				TokensSat:  forwardAmountSat(evt),
				FeeMsat:    forwardFeeMsat(evt),
				InChannel:  ChannelID(evt.ChanIdIn),
				OutChannel: ChannelID(evt.ChanIdOut),
			})
		}

		if resp.LastOffsetIndex <= offset {
			break
		}
		offset = resp.LastOffsetIndex
		if len(resp.ForwardingEvents) < forwardingPageSize {
			break
		}
	}
	return forwards, nil
}

// FetchPayments pages through the payment database between after and before.
// Settled payments come back as stats.Payment with rebalances detected via
// the node identity; failed ones are collected for housekeeping.
func (c *Client) FetchPayments(ctx context.Context, after, before time.Time) ([]stats.Payment, []FailedPayment, error) {
	info, err := c.GetNodeInfo(ctx)
	if err != nil {
		return nil, nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer conn.Close()

	client := lnrpc.NewLightningClient(conn)

	var offset uint64
	var payments []stats.Payment
	var failed []FailedPayment
	for {
		resp, err := client.ListPayments(ctx, &lnrpc.ListPaymentsRequest{
			IncludeIncomplete: true,
			IndexOffset:       offset,
			MaxPayments:       paymentsPageSize,
			CreationDateStart: uint64(after.Unix()),
			CreationDateEnd:   uint64(before.Unix()),
		})
		if err != nil {
			return nil, nil, err
		}
		if resp == nil || len(resp.Payments) == 0 {
			break
		}

		for _, pay := range resp.Payments {
			if pay == nil {
				continue
			}
			switch pay.Status {
			case lnrpc.Payment_SUCCEEDED:
				payments = append(payments, convertPayment(pay, info.Pubkey))
			case lnrpc.Payment_FAILED:
				failed = append(failed, FailedPayment{
					HashHex:   strings.ToLower(strings.TrimSpace(pay.PaymentHash)),
					CreatedAt: paymentTimestamp(pay),
				})
			}
		}

		if resp.LastIndexOffset <= offset {
			break
		}
		offset = resp.LastIndexOffset
		if len(resp.Payments) < paymentsPageSize {
			break
		}
	}
	return payments, failed, nil
}

// routeEndpoints extracts the first and last hop of the successful attempt.
type routeEndpoints struct {
	firstChanID   uint64
	lastChanID    uint64
	lastHopPubkey string
	hopCount      int
}

func extractRouteEndpoints(pay *lnrpc.Payment) routeEndpoints {
	for _, attempt := range pay.Htlcs {
		if attempt == nil || attempt.Route == nil {
			continue
		}
		if attempt.Status != lnrpc.HTLCAttempt_SUCCEEDED {
			continue
		}
		hops := attempt.Route.Hops
		if len(hops) == 0 {
			continue
		}
		return routeEndpoints{
			firstChanID:   hops[0].ChanId,
			lastChanID:    hops[len(hops)-1].ChanId,
			lastHopPubkey: hops[len(hops)-1].PubKey,
			hopCount:      len(hops),
		}
	}
	return routeEndpoints{}
}

// isRebalance reports whether a settled payment is a self-payment: at least
// two hops, terminating at our own node, entering through a different
// channel than it left.
func isRebalance(ep routeEndpoints, ourPubkey string) bool {
	return ep.hopCount >= 2 &&
		ep.lastHopPubkey != "" &&
		strings.EqualFold(ep.lastHopPubkey, ourPubkey) &&
		ep.firstChanID != 0 && ep.lastChanID != 0 &&
		ep.firstChanID != ep.lastChanID
}

func convertPayment(pay *lnrpc.Payment, ourPubkey string) stats.Payment {
	ep := extractRouteEndpoints(pay)
	return stats.Payment{
		Time:       paymentTimestamp(pay),
		TokensSat:  paymentAmountSat(pay),
		FeeMsat:    paymentFeeMsat(pay),
		OutChannel: ChannelID(ep.firstChanID),
		InChannel:  ChannelID(ep.lastChanID),
		Rebalance:  isRebalance(ep, ourPubkey),
	}
}

func forwardTimestamp(evt *lnrpc.ForwardingEvent) time.Time {
	if evt.TimestampNs != 0 {
		return time.Unix(0, int64(evt.TimestampNs)).UTC()
	}
	return time.Unix(int64(evt.Timestamp), 0).UTC()
}

func forwardAmountSat(evt *lnrpc.ForwardingEvent) int64 {
	if evt.AmtOut != 0 {
		return int64(evt.AmtOut)
	}
	return int64(evt.AmtOutMsat / 1000)
}

func forwardFeeMsat(evt *lnrpc.ForwardingEvent) int64 {
	if evt.FeeMsat != 0 {
		return int64(evt.FeeMsat)
	}
	return int64(evt.Fee) * 1000
}

func paymentTimestamp(pay *lnrpc.Payment) time.Time {
	if pay.CreationTimeNs != 0 {
		return time.Unix(0, pay.CreationTimeNs).UTC()
	}
	return time.Unix(pay.CreationDate, 0).UTC()
}

func paymentAmountSat(pay *lnrpc.Payment) int64 {
	if pay.ValueSat != 0 {
		return pay.ValueSat
	}
	return pay.ValueMsat / 1000
}

func paymentFeeMsat(pay *lnrpc.Payment) int64 {
	if pay.FeeMsat != 0 {
		return pay.FeeMsat
	}
	return pay.FeeSat * 1000
}

// Package notify turns accepted bids and schedule events into typed push
// notifications for the affected accounts, and signals the long-poll registry
// so held reads converge.
package notify

import (
	"github.com/bidhaus/auction-server/internal/longpoll"
	"github.com/bidhaus/auction-server/pkg/types"
	"github.com/charmbracelet/log"
)

type EventType string

const (
	AuctionOutbidded   EventType = "auction_outbidded"
	AuctionReceivedBid EventType = "auction_received_bid"
	AuctionBidWon      EventType = "auction_bid_won"
	AuctionBidLost     EventType = "auction_bid_lost"
	AuctionEndingSoon  EventType = "auction_ending_soon"
	AuctionOwningEnded EventType = "auction_owning_ended"
)

// Event is one push notification. Carries the auction's display name for the
// client-side toast.
type Event struct {
	Type        EventType `json:"type"`
	AuctionID   string    `json:"auctionId"`
	AuctionName string    `json:"auctionName"`
}

// Hub delivers events to an account's connected sessions. Delivery is
// at-most-once per session; disconnected accounts simply miss events.
type Hub interface {
	Publish(accountID string, event Event)
}

type Dispatcher struct {
	hub      Hub
	registry *longpoll.Registry
}

func New(hub Hub, registry *longpoll.Registry) *Dispatcher {
	return &Dispatcher{hub: hub, registry: registry}
}

// Emit is the primitive event send, also used by the end-of-auction sweep.
func (d *Dispatcher) Emit(accountID string, t EventType, auctionID, auctionName string) {
	log.Debug("emitting notification", "type", t, "accountId", accountID, "auctionId", auctionID)
	d.hub.Publish(accountID, Event{Type: t, AuctionID: auctionID, AuctionName: auctionName})
}

// BidPlaced dispatches the delta of one accepted bid: the dethroned bidder is
// told they were outbid, the auctioneer that a bid arrived, and every held
// long poll on the auction is released. Must only be called after the bid is
// durably committed.
func (d *Dispatcher) BidPlaced(auctionID, auctionName, auctioneerID string, prevTop *types.Bid, bid types.Bid) {
	if prevTop != nil && prevTop.BidderID != bid.BidderID {
		d.Emit(prevTop.BidderID, AuctionOutbidded, auctionID, auctionName)
	}
	if auctioneerID != bid.BidderID {
		d.Emit(auctioneerID, AuctionReceivedBid, auctionID, auctionName)
	}
	d.registry.NotifyChanged(auctionID)
}

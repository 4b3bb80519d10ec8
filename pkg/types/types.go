package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email"`
	Username  string `json:"username"`
}

// AuctionStatus is derived from the auction's schedule, never stored.
type AuctionStatus string

const (
	AuctionNotScheduled AuctionStatus = "NotScheduled"
	AuctionScheduled    AuctionStatus = "Scheduled"
	AuctionOngoing      AuctionStatus = "Ongoing"
	AuctionEnded        AuctionStatus = "Ended"
)

// BidStatus is derived per viewer from the bid history.
type BidStatus string

const (
	BidStatusNotBid      BidStatus = "NotBid"
	BidStatusNotBidEnded BidStatus = "NotBidEnded"
	BidStatusLeading     BidStatus = "Leading"
	BidStatusWon         BidStatus = "Won"
	BidStatusOutbid      BidStatus = "Outbid"
	BidStatusLost        BidStatus = "Lost"
)

// CardQuality is the ungraded grading scale. A card carries either one of
// these or a numeric PSA grade, never both.
type CardQuality string

const (
	QualityDamaged          CardQuality = "Damaged"
	QualityHeavilyPlayed    CardQuality = "Heavily Played"
	QualityModeratelyPlayed CardQuality = "Moderately Played"
	QualityLightlyPlayed    CardQuality = "Lightly Played"
	QualityNearMint         CardQuality = "Near Mint"
	QualityMint             CardQuality = "Mint"
)

type Card struct {
	CardID       string       `json:"cardId"`
	AuctionID    string       `json:"auctionId"`
	Game         string       `json:"game"`
	Name         string       `json:"name"`
	Description  *string      `json:"description,omitempty"`
	Manufacturer string       `json:"manufacturer"`
	Quality      *CardQuality `json:"qualityUngraded,omitempty"`
	QualityPSA   *int         `json:"qualityPsa,omitempty"`
	Rarity       string       `json:"rarity"`
	Set          string       `json:"set"`
	IsFoil       bool         `json:"isFoil"`
}

type Bundle struct {
	BundleID     string  `json:"bundleId"`
	AuctionID    string  `json:"auctionId"`
	Game         string  `json:"game"`
	Name         string  `json:"name"`
	Description  *string `json:"description,omitempty"`
	Manufacturer string  `json:"manufacturer"`
	Set          string  `json:"set"`
}

type Bid struct {
	BidID     string          `json:"bidId"`
	AuctionID string          `json:"auctionId"`
	BidderID  string          `json:"bidderId"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// Auction is the read model returned by the query engine. Exactly one of
// Cards and Bundle is populated.
type Auction struct {
	AuctionID      string          `json:"auctionId"`
	AuctioneerID   string          `json:"auctioneerId"`
	Name           string          `json:"name"`
	Description    *string         `json:"description,omitempty"`
	StartPrice     decimal.Decimal `json:"startPrice"`
	Spread         decimal.Decimal `json:"spread"`
	MinNewBidPrice decimal.Decimal `json:"minNewBidPrice"`
	StartTime      *time.Time      `json:"startTime,omitempty"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
	TopBid         *Bid            `json:"topBid"`
	NumBids        int             `json:"numBids"`
	AuctionStatus  AuctionStatus   `json:"auctionStatus"`
	BidStatus      *BidStatus      `json:"bidStatus,omitempty"`
	Cards          []Card          `json:"cards,omitempty"`
	Bundle         *Bundle         `json:"bundle,omitempty"`
}

// IsBundle reports which side of the card/bundle union the auction is on.
func (a *Auction) IsBundle() bool {
	return a.Bundle != nil
}

// TopBidIdentity is the auction's long-poll identity: the current top bid's
// id, or "null" while the auction is unbid.
func (a *Auction) TopBidIdentity() string {
	if a.TopBid == nil {
		return "null"
	}
	return a.TopBid.BidID
}

// AuctionPage is the listing payload: one page of auctions plus the capped
// total match count.
type AuctionPage struct {
	Auctions         []Auction `json:"auctions"`
	TotalNumAuctions int       `json:"totalNumAuctions"`
}

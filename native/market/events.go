package market

import (
	"encoding/hex"
	"strconv"

	"nftmarket/core/types"
)

const (
	EventTypeListingCreated    = "market.listing.created"
	EventTypePriceChanged      = "market.price.changed"
	EventTypeListingCancelled  = "market.listing.cancelled"
	EventTypePurchaseCompleted = "market.purchase.completed"
	EventTypeFeeRateChanged    = "market.fee_rate.changed"
	EventTypeCurrencyAdded     = "market.currency.added"
	EventTypeCurrencyRemoved   = "market.currency.removed"
)

// NewListingCreatedEvent returns the canonical payload emitted when an owner
// deposits an asset and opens a listing. relist marks an overwrite of an
// already active listing, so consumers can tell a fresh deposit from a
// price/currency rewrite.
func NewListingCreatedEvent(l *Listing, relist bool) *types.Event {
	attrs := make(map[string]string)
	if relist {
		attrs["relist"] = "true"
	}
	if l == nil {
		return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
	}
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
	}
	attrs["owner"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["assetId"] = strconv.FormatUint(sanitized.AssetID, 10)
	attrs["price"] = sanitized.Price.String()
	attrs["currency"] = hex.EncodeToString(sanitized.Currency[:])
	return &types.Event{Type: EventTypeListingCreated, Attributes: attrs}
}

// NewPriceChangedEvent returns the payload emitted when a depositor adjusts
// the listing price.
func NewPriceChangedEvent(l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["assetId"] = strconv.FormatUint(l.AssetID, 10)
		if l.Price != nil {
			attrs["price"] = l.Price.String()
		}
	}
	return &types.Event{Type: EventTypePriceChanged, Attributes: attrs}
}

// NewListingCancelledEvent returns the payload emitted when a depositor
// withdraws an active listing.
func NewListingCancelledEvent(assetID uint64) *types.Event {
	return &types.Event{
		Type: EventTypeListingCancelled,
		Attributes: map[string]string{
			"assetId": strconv.FormatUint(assetID, 10),
		},
	}
}

// NewPurchaseCompletedEvent returns the payload emitted after a successful
// purchase: the asset, the buyer, the settlement currency and the exact
// price/fee/royalty division.
func NewPurchaseCompletedEvent(assetID uint64, buyer [20]byte, currency [20]byte, split SplitResult, price string) *types.Event {
	attrs := map[string]string{
		"assetId":  strconv.FormatUint(assetID, 10),
		"buyer":    hex.EncodeToString(buyer[:]),
		"currency": hex.EncodeToString(currency[:]),
		"price":    price,
	}
	if split.Fee != nil {
		attrs["fee"] = split.Fee.String()
	}
	if split.Royalty != nil {
		attrs["royalty"] = split.Royalty.String()
	}
	return &types.Event{Type: EventTypePurchaseCompleted, Attributes: attrs}
}

// NewFeeRateChangedEvent returns the payload emitted once per changed fee
// rate, carrying the acting administrator plus the old and new values.
func NewFeeRateChangedEvent(account [20]byte, scope string, oldBps, newBps uint32) *types.Event {
	return &types.Event{
		Type: EventTypeFeeRateChanged,
		Attributes: map[string]string{
			"account": hex.EncodeToString(account[:]),
			"scope":   scope,
			"old":     strconv.FormatUint(uint64(oldBps), 10),
			"new":     strconv.FormatUint(uint64(newBps), 10),
		},
	}
}

// NewCurrencyAddedEvent returns the payload emitted when a settlement
// currency joins the allow-list.
func NewCurrencyAddedEvent(currency [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeCurrencyAdded,
		Attributes: map[string]string{
			"currency": hex.EncodeToString(currency[:]),
		},
	}
}

// NewCurrencyRemovedEvent returns the payload emitted when a settlement
// currency leaves the allow-list.
func NewCurrencyRemovedEvent(currency [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeCurrencyRemoved,
		Attributes: map[string]string{
			"currency": hex.EncodeToString(currency[:]),
		},
	}
}

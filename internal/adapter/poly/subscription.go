package poly

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/caesar-terminal/caesar/internal/adapter"
)

// marketSubscribeMsg is the market-channel subscribe/unsubscribe frame.
// Type is always the "MARKET" channel discriminator (spec §6); Action
// carries the add/remove operation the controller is requesting.
type marketSubscribeMsg struct {
	Type      string   `json:"type"`
	Action    string   `json:"action,omitempty"`
	AssetsIDs []string `json:"assets_ids"`
}

// userSubscribeMsg is the user-channel subscribe frame; auth headers are
// attached at the connection level (auth.go), not per-message.
type userSubscribeMsg struct {
	Type    string   `json:"type"`
	Markets []string `json:"markets"`
}

// Sender delivers a raw frame on a Connector channel. Satisfied by
// *adapter.Connector.
type Sender interface {
	Send(ch adapter.Channel, data []byte) error
}

// SubscriptionController is the Subscription Controller (C6): the
// authoritative set of active subscriptions (market assets and user
// markets). It diffs a newly requested set against what is currently
// active and sends only the delta; after a reconnect it reasserts the
// full active set from scratch, since the server has forgotten it.
type SubscriptionController struct {
	sender Sender

	mu            sync.Mutex
	marketActive  map[adapter.AssetId]struct{}
	userActive    map[string]struct{}
}

// NewSubscriptionController creates a SubscriptionController that sends
// frames through sender.
func NewSubscriptionController(sender Sender) *SubscriptionController {
	return &SubscriptionController{
		sender:       sender,
		marketActive: make(map[adapter.AssetId]struct{}),
		userActive:   make(map[string]struct{}),
	}
}

// SetMarketAssets requests that exactly the given assets be subscribed on
// the market channel. Only the delta (additions/removals) versus the
// currently active set is sent.
func (sc *SubscriptionController) SetMarketAssets(assets []adapter.AssetId) {
	sc.mu.Lock()
	want := make(map[adapter.AssetId]struct{}, len(assets))
	for _, a := range assets {
		want[a] = struct{}{}
	}

	var toAdd, toRemove []adapter.AssetId
	for a := range want {
		if _, ok := sc.marketActive[a]; !ok {
			toAdd = append(toAdd, a)
		}
	}
	for a := range sc.marketActive {
		if _, ok := want[a]; !ok {
			toRemove = append(toRemove, a)
		}
	}
	sc.marketActive = want
	sc.mu.Unlock()

	if len(toAdd) > 0 {
		sc.sendMarket("subscribe", toAdd)
	}
	if len(toRemove) > 0 {
		sc.sendMarket("unsubscribe", toRemove)
	}
}

// SetUserMarkets requests that exactly the given markets be subscribed on
// the user channel.
func (sc *SubscriptionController) SetUserMarkets(markets []string) {
	sc.mu.Lock()
	want := make(map[string]struct{}, len(markets))
	for _, m := range markets {
		want[m] = struct{}{}
	}
	changed := len(want) != len(sc.userActive)
	if !changed {
		for m := range want {
			if _, ok := sc.userActive[m]; !ok {
				changed = true
				break
			}
		}
	}
	sc.userActive = want
	sc.mu.Unlock()

	if changed {
		sc.sendUser(sortedKeys(want))
	}
}

// Reassert resends the full active subscription set on ch — called after
// every reconnect (spec §4.5/§4.6), since the server has no memory of
// pre-reconnect subscriptions.
func (sc *SubscriptionController) Reassert(ch adapter.Channel) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	switch ch {
	case adapter.ChannelMarket:
		if len(sc.marketActive) == 0 {
			return
		}
		assets := make([]adapter.AssetId, 0, len(sc.marketActive))
		for a := range sc.marketActive {
			assets = append(assets, a)
		}
		sc.sendMarketLocked("subscribe", assets)
	case adapter.ChannelUser:
		if len(sc.userActive) == 0 {
			return
		}
		sc.sendUserLocked(sortedKeys(sc.userActive))
	}
}

func (sc *SubscriptionController) sendMarket(op string, assets []adapter.AssetId) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.sendMarketLocked(op, assets)
}

func (sc *SubscriptionController) sendMarketLocked(op string, assets []adapter.AssetId) {
	ids := make([]string, len(assets))
	for i, a := range assets {
		ids[i] = string(a)
	}
	frame, err := json.Marshal(marketSubscribeMsg{Type: "MARKET", Action: op, AssetsIDs: ids})
	if err != nil {
		log.Printf("poly: failed to marshal %s frame: %v", op, err)
		return
	}
	if err := sc.sender.Send(adapter.ChannelMarket, frame); err != nil {
		log.Printf("poly: failed to send %s frame: %v", op, err)
	}
}

func (sc *SubscriptionController) sendUser(markets []string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.sendUserLocked(markets)
}

func (sc *SubscriptionController) sendUserLocked(markets []string) {
	frame, err := json.Marshal(userSubscribeMsg{Type: "USER", Markets: markets})
	if err != nil {
		log.Printf("poly: failed to marshal user subscribe frame: %v", err)
		return
	}
	if err := sc.sender.Send(adapter.ChannelUser, frame); err != nil {
		log.Printf("poly: failed to send user subscribe frame: %v", err)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

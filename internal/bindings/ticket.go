package bindings

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/recordstore"
)

// TicketSelection is the ticket choice carried by a record.
type TicketSelection struct {
	Matches  []string
	Category int
	Quantity int
}

// MaxTicketQuantity caps the increase clicks per match. The site sells at
// most a handful of tickets per match and account.
const MaxTicketQuantity = 10

// ParseTicketSelection extracts the ticket choice from a record. Quantity is
// clamped to [0, MaxTicketQuantity] and a negative category becomes zero,
// which selects nothing.
func ParseTicketSelection(rec recordstore.Record) TicketSelection {
	return TicketSelection{
		Matches:  []string(rec.Matches),
		Category: max(int(rec.Category), 0),
		Quantity: min(max(int(rec.Quantity), 0), MaxTicketQuantity),
	}
}

// Wants reports whether match is one of the selected match numbers.
func (s TicketSelection) Wants(match string) bool {
	return match != "" && slices.Contains(s.Matches, match)
}

type ticketItem struct {
	Index int    `json:"index"`
	Match string `json:"match"`
}

type ticketList struct {
	Session string       `json:"session"`
	Items   []ticketItem `json:"items"`
}

type seenKey struct {
	session string
	match   string
}

// TicketSelectionBinding expands each wanted match in the product list,
// picks the category and raises the quantity.
//
// Every match is processed at most once per page session, so running the
// binding again against the same list does not click anything twice. The
// session key is the frame's URL and time origin, which change on navigation.
type TicketSelectionBinding struct {
	listID      string
	expandDelay time.Duration
	sleep       SleepFunc
	logger      *zap.Logger

	mu   sync.Mutex
	seen map[seenKey]struct{}
}

// NewTicketSelection creates the ticket selection binding.
func NewTicketSelection(listID string, expandDelay time.Duration, sleep SleepFunc, logger *zap.Logger) *TicketSelectionBinding {
	if sleep == nil {
		sleep = sleepContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketSelectionBinding{
		listID:      listID,
		expandDelay: expandDelay,
		sleep:       sleep,
		logger:      logger,
		seen:        make(map[seenKey]struct{}),
	}
}

func (*TicketSelectionBinding) Stage() StageKind { return StageTicketSelection }

func (*TicketSelectionBinding) Detect(s PageState) bool { return s.HasTicketList }

// Fill reports whether the ticket list was present.
func (t *TicketSelectionBinding) Fill(ctx context.Context, r bridge.Runner, target bridge.Target, rec recordstore.Record) bool {
	sel := ParseTicketSelection(rec)
	log := t.logger.With(zap.Strings("matches", sel.Matches), zap.Int("category", sel.Category), zap.Int("quantity", sel.Quantity))

	list, ok := bridge.Decode[ticketList](r.Run(ctx, target, ticketItemsCapability, t.listID))
	if !ok {
		log.Debug("Ticket list not present.")
		return false
	}

	// Expand every wanted item, then wait once before selecting.
	var expanded []int
	for _, item := range list.Items {
		if !sel.Wants(item.Match) || !t.markSeen(list.Session, item.Match) {
			continue
		}
		if bridge.Truthy(r.Run(ctx, target, ticketExpandCapability, t.listID, item.Index)) {
			expanded = append(expanded, item.Index)
		}
	}
	if len(expanded) == 0 {
		return true
	}

	if err := t.sleep(ctx, t.expandDelay); err != nil {
		return true
	}

	for _, index := range expanded {
		if !bridge.Truthy(r.Run(ctx, target, ticketSelectCapability, t.listID, index, sel.Category, sel.Quantity)) {
			log.Debug("Category or quantity control missing.", zap.Int("index", index))
		}
	}
	log.Info("Ticket selection applied.", zap.Int("items", len(expanded)))
	return true
}

// markSeen records a match for a page session and reports whether it was new.
func (t *TicketSelectionBinding) markSeen(session, match string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := seenKey{session: session, match: match}
	if _, dup := t.seen[k]; dup {
		return false
	}
	t.seen[k] = struct{}{}
	return true
}

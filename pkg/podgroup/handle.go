package podgroup

import (
	"time"

	"github.com/cuemby/stark/pkg/starkerr"
	"github.com/cuemby/stark/pkg/types"
)

// defaultQueryTimeout is §5's default ephemeral query deadline.
const defaultQueryTimeout = 5 * time.Second

// Handle is the caller-facing object returned by Join (§4.9): it caches
// the group's membership snapshot and offers operations scoped to this
// group. Once Leave is called the handle is marked left and rejects
// every further operation.
type Handle struct {
	groupID string
	podID   string

	store      *Store
	correlator *QueryCorrelator
	locator    PodLocator
	sender     QuerySender

	left bool
}

// Join upserts podID's membership in groupID and returns a Handle
// caching the resulting group snapshot.
func Join(store *Store, correlator *QueryCorrelator, locator PodLocator, sender QuerySender, groupID, podID string, ttl time.Duration, metadata map[string]string) (*Handle, error) {
	if err := store.Join(groupID, podID, ttl, metadata); err != nil {
		return nil, err
	}
	return &Handle{
		groupID: groupID, podID: podID,
		store: store, correlator: correlator, locator: locator, sender: sender,
	}, nil
}

// Members returns the group's currently valid member pod IDs. Equivalent
// to PodIDs; kept as a separate name to match §4.9's "membership,
// members, podIds" caller-facing surface.
func (h *Handle) Members() ([]string, error) {
	if h.left {
		return nil, starkerr.Invalid("Members", "handle already left group "+h.groupID)
	}
	return h.store.List(h.groupID), nil
}

// PodIDs is an alias for Members, matching §4.9's naming.
func (h *Handle) PodIDs() ([]string, error) { return h.Members() }

// Refresh extends this handle's own membership TTL window.
func (h *Handle) Refresh() error {
	if h.left {
		return starkerr.Invalid("Refresh", "handle already left group "+h.groupID)
	}
	return h.store.Refresh(h.groupID, h.podID)
}

// Leave removes this handle's pod from the group and marks the handle
// left; every subsequent call on it fails.
func (h *Handle) Leave() error {
	if h.left {
		return nil
	}
	h.left = true
	return h.store.Leave(h.groupID, h.podID)
}

// QueryPods fans path/params out to every other member of this handle's
// group (excluding the calling pod itself) and aggregates responses keyed
// by pod ID.
func (h *Handle) QueryPods(path string, params map[string]string, timeout time.Duration) (map[string]types.EphemeralResponse, error) {
	if h.left {
		return nil, starkerr.Invalid("QueryPods", "handle already left group "+h.groupID)
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	all := h.store.List(h.groupID)
	targets := make([]string, 0, len(all))
	for _, id := range all {
		if id == h.podID {
			continue
		}
		targets = append(targets, id)
	}
	return h.correlator.Query(h.locator, h.sender, targets, path, params, timeout), nil
}

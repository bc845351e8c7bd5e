package netpolicy

import (
	"fmt"

	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/types"
	"github.com/rs/zerolog"
)

// Request describes one reachability check: can sourceServiceID reach
// targetServiceID, either from inside the overlay or from external ingress.
type Request struct {
	SourceServiceID string
	TargetServiceID string
	Namespace       string
	Ingress         bool
}

// Engine evaluates Requests against the two policy forms in §4.7.
type Engine struct {
	store  Store
	logger zerolog.Logger
}

// NewEngine creates a policy engine over store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, logger: log.WithComponent("netpolicy")}
}

// IsAllowed reports whether req is permitted. It is idempotent and depends
// only on the current policy rows (§8 invariant).
func (e *Engine) IsAllowed(req Request) (bool, error) {
	rules, err := e.store.ListNetworkPolicies()
	if err != nil {
		return false, fmt.Errorf("failed to list network policies: %w", err)
	}
	if len(rules) > 0 {
		return e.evaluateExplicitRules(req, rules), nil
	}
	return e.evaluateExposeModel(req)
}

// evaluateExplicitRules implements the legacy deny-by-default form: any
// rules present at all means absence of a matching row is a deny, not a
// fallthrough to the expose model.
func (e *Engine) evaluateExplicitRules(req Request, rules []*types.NetworkPolicy) bool {
	for _, r := range rules {
		if r.SourceService == req.SourceServiceID && r.TargetService == req.TargetServiceID && r.Namespace == req.Namespace {
			return r.Action == types.PolicyAllow
		}
	}
	return false
}

// evaluateExposeModel implements the two-step expose/visibility form.
func (e *Engine) evaluateExposeModel(req Request) (bool, error) {
	meta, err := e.store.GetServiceNetworkMeta(req.TargetServiceID)
	if err != nil {
		return false, fmt.Errorf("failed to load network meta for %s: %w", req.TargetServiceID, err)
	}
	if meta == nil {
		return false, nil
	}

	if req.Ingress {
		return meta.Exposed, nil
	}

	switch meta.Visibility {
	case types.VisibilityPublic:
		return true, nil
	case types.VisibilityPrivate, types.VisibilitySystem:
		return contains(meta.AllowedSources, req.SourceServiceID), nil
	default:
		return false, nil
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/starkerr"
	"github.com/cuemby/stark/pkg/statestore"
	"github.com/cuemby/stark/pkg/types"
)

// Reconciler is the subset of pkg/scheduler's Scheduler the admin API needs:
// a way to nudge the reconciliation loop after a write that changes desired
// state, instead of waiting for the next tick.
type Reconciler interface {
	Kick()
}

// Handler serves the REST admin surface over a StateStore and a Scheduler.
// It is the only way the CLI (cmd/stark) touches cluster state.
type Handler struct {
	store      *statestore.StateStore
	reconciler Reconciler
	logger     zerolog.Logger
}

// NewHandler creates an admin API handler.
func NewHandler(store *statestore.StateStore, reconciler Reconciler) *Handler {
	return &Handler{
		store:      store,
		reconciler: reconciler,
		logger:     log.WithComponent("adminapi"),
	}
}

// Routes returns a chi.Router with every admin route mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)

	r.Route("/nodes", func(r chi.Router) {
		r.Get("/", h.handleListNodes)
		r.Post("/", h.handleRegisterNode)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetNode)
			r.Post("/cordon", h.handleCordonNode)
			r.Post("/uncordon", h.handleUncordonNode)
			r.Post("/drain", h.handleDrainNode)
			r.Delete("/", h.handleDeregisterNode)
		})
	})

	r.Route("/services", func(r chi.Router) {
		r.Get("/", h.handleListServices)
		r.Post("/", h.handleCreateService)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetService)
			r.Put("/scale", h.handleScaleService)
			r.Post("/rollout", h.handleRolloutService)
			r.Delete("/", h.handleDeleteService)
		})
	})

	r.Route("/network-policies", func(r chi.Router) {
		r.Get("/", h.handleListNetworkPolicies)
		r.Post("/", h.handleCreateNetworkPolicy)
		r.Delete("/{id}", h.handleDeleteNetworkPolicy)
	})

	r.Route("/pods", func(r chi.Router) {
		r.Get("/", h.handleListPods)
		r.Get("/{id}", h.handleGetPod)
		r.Get("/{id}/history", h.handleGetPodHistory)
	})

	return r
}

// -- health --

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respond(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !h.store.IsLeader() {
		respond(w, h.logger, http.StatusOK, map[string]any{
			"status": "follower",
			"leader": h.store.LeaderAddr(),
		})
		return
	}
	respond(w, h.logger, http.StatusOK, map[string]string{"status": "leader"})
}

// -- nodes --

type registerNodeRequest struct {
	Name         string              `json:"name"`
	RuntimeType  types.RuntimeType   `json:"runtimeType"`
	Capabilities []string            `json:"capabilities"`
	Allocatable  *types.NodeResources `json:"allocatable"`
	Labels       map[string]string   `json:"labels"`
	Taints       []types.Taint       `json:"taints"`
}

func (h *Handler) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, h.logger, "adminapi.registerNode", err)
		return
	}
	node := &types.Node{
		ID:            uuid.NewString(),
		Name:          req.Name,
		RuntimeType:   req.RuntimeType,
		Capabilities:  req.Capabilities,
		Allocatable:   req.Allocatable,
		Labels:        req.Labels,
		Taints:        req.Taints,
		Status:        types.NodeReady,
		LastHeartbeat: time.Now(),
		CreatedAt:     time.Now(),
	}
	if err := h.store.CreateNode(node); err != nil {
		respondErr(w, h.logger, "adminapi.registerNode", err)
		return
	}
	respond(w, h.logger, http.StatusCreated, node)
}

func (h *Handler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.ListNodes()
	if err != nil {
		respondErr(w, h.logger, "adminapi.listNodes", err)
		return
	}
	respond(w, h.logger, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

func (h *Handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.store.GetNode(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, h.logger, "adminapi.getNode", notFound("adminapi.getNode", "node", err))
		return
	}
	respond(w, h.logger, http.StatusOK, node)
}

func (h *Handler) setNodeStatus(w http.ResponseWriter, r *http.Request, status types.NodeStatus) {
	id := chi.URLParam(r, "id")
	node, err := h.store.GetNode(id)
	if err != nil {
		respondErr(w, h.logger, "adminapi.setNodeStatus", notFound("adminapi.setNodeStatus", "node", err))
		return
	}
	node.Status = status
	if err := h.store.UpdateNode(node); err != nil {
		respondErr(w, h.logger, "adminapi.setNodeStatus", err)
		return
	}
	h.reconciler.Kick()
	respond(w, h.logger, http.StatusOK, node)
}

func (h *Handler) handleCordonNode(w http.ResponseWriter, r *http.Request) {
	h.setNodeStatus(w, r, types.NodeCordoned)
}

func (h *Handler) handleUncordonNode(w http.ResponseWriter, r *http.Request) {
	h.setNodeStatus(w, r, types.NodeReady)
}

func (h *Handler) handleDrainNode(w http.ResponseWriter, r *http.Request) {
	h.setNodeStatus(w, r, types.NodeDraining)
}

func (h *Handler) handleDeregisterNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteNode(id); err != nil {
		respondErr(w, h.logger, "adminapi.deregisterNode", err)
		return
	}
	respond(w, h.logger, http.StatusNoContent, nil)
}

// -- services --

type createServiceRequest struct {
	Name           string            `json:"name"`
	Namespace      string            `json:"namespace"`
	PackID         string            `json:"packId"`
	PackVersion    string            `json:"packVersion"`
	FollowLatest   bool              `json:"followLatest"`
	Replicas       int               `json:"replicas"`
	Labels         map[string]string `json:"labels"`
	Scheduling     types.Scheduling  `json:"scheduling"`
	Resources      types.Resources   `json:"resources"`
	Visibility     types.Visibility  `json:"visibility"`
	Exposed        bool              `json:"exposed"`
	AllowedSources []string          `json:"allowedSources"`
	IngressPort    int               `json:"ingressPort"`
	Priority       int               `json:"priority"`
}

func (h *Handler) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, h.logger, "adminapi.createService", err)
		return
	}
	now := time.Now()
	svc := &types.Service{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Namespace:      req.Namespace,
		PackID:         req.PackID,
		PackVersion:    req.PackVersion,
		FollowLatest:   req.FollowLatest,
		Replicas:       req.Replicas,
		Status:         types.ReplicaSetActive,
		Labels:         req.Labels,
		Scheduling:     req.Scheduling,
		Resources:      req.Resources,
		Visibility:     req.Visibility,
		Exposed:        req.Exposed,
		AllowedSources: req.AllowedSources,
		IngressPort:    req.IngressPort,
		Priority:       req.Priority,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.CreateService(svc); err != nil {
		respondErr(w, h.logger, "adminapi.createService", err)
		return
	}
	h.reconciler.Kick()
	respond(w, h.logger, http.StatusCreated, svc)
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices()
	if err != nil {
		respondErr(w, h.logger, "adminapi.listServices", err)
		return
	}
	respond(w, h.logger, http.StatusOK, map[string]any{"services": services, "count": len(services)})
}

func (h *Handler) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.store.GetService(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, h.logger, "adminapi.getService", notFound("adminapi.getService", "service", err))
		return
	}
	respond(w, h.logger, http.StatusOK, svc)
}

type scaleServiceRequest struct {
	Replicas int `json:"replicas"`
}

func (h *Handler) handleScaleService(w http.ResponseWriter, r *http.Request) {
	var req scaleServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, h.logger, "adminapi.scaleService", err)
		return
	}
	if req.Replicas < 0 {
		respondErr(w, h.logger, "adminapi.scaleService", starkerr.Invalid("adminapi.scaleService", "replicas must be >= 0"))
		return
	}
	svc, err := h.store.GetService(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, h.logger, "adminapi.scaleService", notFound("adminapi.scaleService", "service", err))
		return
	}
	svc.Replicas = req.Replicas
	svc.UpdatedAt = time.Now()
	if err := h.store.UpdateService(svc); err != nil {
		respondErr(w, h.logger, "adminapi.scaleService", err)
		return
	}
	h.reconciler.Kick()
	respond(w, h.logger, http.StatusOK, svc)
}

type rolloutServiceRequest struct {
	PackVersion string `json:"packVersion"`
}

func (h *Handler) handleRolloutService(w http.ResponseWriter, r *http.Request) {
	var req rolloutServiceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, h.logger, "adminapi.rolloutService", err)
		return
	}
	svc, err := h.store.GetService(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, h.logger, "adminapi.rolloutService", notFound("adminapi.rolloutService", "service", err))
		return
	}
	svc.PackVersion = req.PackVersion
	svc.Status = types.ReplicaSetRolling
	svc.UpdatedAt = time.Now()
	if err := h.store.UpdateService(svc); err != nil {
		respondErr(w, h.logger, "adminapi.rolloutService", err)
		return
	}
	h.reconciler.Kick()
	respond(w, h.logger, http.StatusAccepted, svc)
}

func (h *Handler) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteService(chi.URLParam(r, "id")); err != nil {
		respondErr(w, h.logger, "adminapi.deleteService", err)
		return
	}
	h.reconciler.Kick()
	respond(w, h.logger, http.StatusNoContent, nil)
}

// -- network policies --

type createNetworkPolicyRequest struct {
	SourceService string            `json:"sourceService"`
	TargetService string            `json:"targetService"`
	Action        types.PolicyAction `json:"action"`
	Namespace     string            `json:"namespace"`
}

func (h *Handler) handleCreateNetworkPolicy(w http.ResponseWriter, r *http.Request) {
	var req createNetworkPolicyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, h.logger, "adminapi.createNetworkPolicy", err)
		return
	}
	if req.Action != types.PolicyAllow && req.Action != types.PolicyDeny {
		respondErr(w, h.logger, "adminapi.createNetworkPolicy", starkerr.Invalid("adminapi.createNetworkPolicy", "action must be allow or deny"))
		return
	}
	policy := &types.NetworkPolicy{
		ID:            uuid.NewString(),
		SourceService: req.SourceService,
		TargetService: req.TargetService,
		Action:        req.Action,
		Namespace:     req.Namespace,
		CreatedAt:     time.Now(),
	}
	if err := h.store.CreateNetworkPolicy(policy); err != nil {
		respondErr(w, h.logger, "adminapi.createNetworkPolicy", err)
		return
	}
	respond(w, h.logger, http.StatusCreated, policy)
}

func (h *Handler) handleListNetworkPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.store.ListNetworkPolicies()
	if err != nil {
		respondErr(w, h.logger, "adminapi.listNetworkPolicies", err)
		return
	}
	respond(w, h.logger, http.StatusOK, map[string]any{"policies": policies, "count": len(policies)})
}

func (h *Handler) handleDeleteNetworkPolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteNetworkPolicy(chi.URLParam(r, "id")); err != nil {
		respondErr(w, h.logger, "adminapi.deleteNetworkPolicy", err)
		return
	}
	respond(w, h.logger, http.StatusNoContent, nil)
}

// -- pods --

func (h *Handler) handleListPods(w http.ResponseWriter, r *http.Request) {
	var (
		pods []*types.Pod
		err  error
	)
	if serviceID := r.URL.Query().Get("serviceId"); serviceID != "" {
		pods, err = h.store.ListPodsByService(serviceID)
	} else if nodeID := r.URL.Query().Get("nodeId"); nodeID != "" {
		pods, err = h.store.ListPodsByNode(nodeID)
	} else {
		pods, err = h.store.ListPods()
	}
	if err != nil {
		respondErr(w, h.logger, "adminapi.listPods", err)
		return
	}
	respond(w, h.logger, http.StatusOK, map[string]any{"pods": pods, "count": len(pods)})
}

func (h *Handler) handleGetPod(w http.ResponseWriter, r *http.Request) {
	pod, err := h.store.GetPod(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, h.logger, "adminapi.getPod", notFound("adminapi.getPod", "pod", err))
		return
	}
	respond(w, h.logger, http.StatusOK, pod)
}

func (h *Handler) handleGetPodHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.store.ListPodHistory(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, h.logger, "adminapi.getPodHistory", err)
		return
	}
	respond(w, h.logger, http.StatusOK, map[string]any{"history": history, "count": len(history)})
}

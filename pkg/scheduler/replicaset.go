package scheduler

import "github.com/cuemby/stark/pkg/types"

// replicaSet unifies Service and Deployment for the placement pipeline: both
// carry a desired replica count, a pack reference, and scheduling
// constraints, and are reconciled identically except for which pod field
// (ServiceID vs DeploymentID) owns the resulting pods.
type replicaSet struct {
	kind        string // "service" | "deployment"
	id          string
	name        string
	namespace   string
	packID      string
	packVersion string
	replicas    int
	scheduling  types.Scheduling
	resources   types.Resources
	labels      map[string]string
	priority    int

	service    *types.Service
	deployment *types.Deployment
}

func fromService(s *types.Service) replicaSet {
	return replicaSet{
		kind:        "service",
		id:          s.ID,
		name:        s.Name,
		namespace:   s.Namespace,
		packID:      s.PackID,
		packVersion: s.PackVersion,
		replicas:    s.Replicas,
		scheduling:  s.Scheduling,
		resources:   s.Resources,
		labels:      s.Labels,
		priority:    s.Priority,
		service:     s,
	}
}

func fromDeployment(d *types.Deployment) replicaSet {
	return replicaSet{
		kind:        "deployment",
		id:          d.ID,
		name:        d.Name,
		namespace:   d.Namespace,
		packID:      d.PackID,
		packVersion: d.PackVersion,
		replicas:    d.Replicas,
		scheduling:  d.Scheduling,
		resources:   d.Resources,
		labels:      d.Labels,
		priority:    d.Priority,
		deployment:  d,
	}
}

// newPod builds the pending pod row for this replica set. The caller fills
// in ID and CreatedAt.
func (rs replicaSet) newPod() *types.Pod {
	pod := &types.Pod{
		PackID:           rs.packID,
		PackVersion:      rs.packVersion,
		Namespace:        rs.namespace,
		Status:           types.PodPending,
		ResourceRequests: rs.resources.Requests,
		ResourceLimits:   rs.resources.Limits,
		Labels:           rs.labels,
		Priority:         rs.priority,
	}
	if rs.kind == "service" {
		pod.ServiceID = rs.id
	} else {
		pod.DeploymentID = rs.id
	}
	return pod
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/stark/pkg/agentconn"
	"github.com/cuemby/stark/pkg/agentnet"
	"github.com/cuemby/stark/pkg/agentruntime"
	"github.com/cuemby/stark/pkg/health"
	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/metrics"
	"github.com/cuemby/stark/pkg/sessionhub"
	"github.com/cuemby/stark/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "stark-agent",
	Short:   "Stark agent - runs pod isolates and speaks the node session protocol",
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("stark-agent version %s\ncommit %s\n", Version, Commit))
	flags := rootCmd.Flags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.String("orchestrator", "ws://127.0.0.1:8080/agent/ws", "Orchestrator session hub websocket address")
	flags.String("join-token", "", "Join token issued by the orchestrator for this node (required)")
	flags.String("node-name", "", "Node name to register as (defaults to hostname)")
	flags.StringSlice("capability", nil, "Capability tags this node offers")
	flags.String("containerd-sock", agentruntime.DefaultSocketPath, "containerd socket path")
	flags.String("peer-listen-addr", "127.0.0.1:7950", "Address this node accepts peer data channel connections on")
	flags.String("health-listen-addr", "127.0.0.1:7951", "Address to serve /metrics, /health, /ready, /live on")
	flags.Duration("heartbeat-interval", 10*time.Second, "Heartbeat frame send interval")
}

func runAgent(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	level, _ := flags.GetString("log-level")
	jsonOut, _ := flags.GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	logger := log.WithComponent("stark-agent")

	orchestratorAddr, _ := flags.GetString("orchestrator")
	joinToken, _ := flags.GetString("join-token")
	nodeName, _ := flags.GetString("node-name")
	capabilities, _ := flags.GetStringSlice("capability")
	containerdSock, _ := flags.GetString("containerd-sock")
	peerListenAddr, _ := flags.GetString("peer-listen-addr")
	healthListenAddr, _ := flags.GetString("health-listen-addr")
	heartbeatInterval, _ := flags.GetDuration("heartbeat-interval")

	if joinToken == "" {
		return fmt.Errorf("--join-token is required")
	}
	if nodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname for --node-name: %w", err)
		}
		nodeName = hostname
	}

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("agentruntime", "sessionhub")

	runtime, err := agentruntime.NewRuntime(containerdSock)
	if err != nil {
		metrics.RegisterComponent("agentruntime", false, err.Error())
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer runtime.Close()
	metrics.RegisterComponent("agentruntime", true, "")

	conn, _, err := websocket.DefaultDialer.Dial(orchestratorAddr, nil)
	if err != nil {
		metrics.RegisterComponent("sessionhub", false, err.Error())
		return fmt.Errorf("dial orchestrator %s: %w", orchestratorAddr, err)
	}
	defer conn.Close()
	metrics.RegisterComponent("sessionhub", true, "")

	healthMux := http.NewServeMux()
	healthMux.Handle("/metrics", metrics.Handler())
	healthMux.HandleFunc("/health", metrics.HealthHandler())
	healthMux.HandleFunc("/ready", metrics.ReadyHandler())
	healthMux.HandleFunc("/live", metrics.LivenessHandler())
	healthSrv := &http.Server{Addr: healthListenAddr, Handler: healthMux}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health listener stopped")
		}
	}()
	defer healthSrv.Close()

	a := newAgent(nodeName, runtime, conn, logger, "ws://"+peerListenAddr+"?node="+nodeName)
	defer a.closeAllPeers()

	peerListener := agentconn.NewListener(a, a.onPeerAccepted)
	peerSrv := &http.Server{Addr: peerListenAddr, Handler: peerListener}
	go func() {
		if err := peerSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("peer listener stopped")
		}
	}()
	defer peerSrv.Close()

	if err := a.sendAuth(joinToken); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}
	if err := a.sendRegister(capabilities); err != nil {
		return fmt.Errorf("send register frame: %w", err)
	}
	logger.Info().Str("node_name", nodeName).Str("orchestrator", orchestratorAddr).Msg("agent registered")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.heartbeatLoop(ctx, heartbeatInterval)

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- a.readLoop()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-readErrCh:
		logger.Error().Err(err).Msg("orchestrator connection lost")
		return err
	}
	return nil
}

// trackedPod is everything the agent needs to know about one isolate it
// is running, between a pod:deploy frame and the isolate's eventual
// removal.
type trackedPod struct {
	containerID string
	lifecycle   *agentruntime.Lifecycle
	port        string

	checker     health.Checker
	healthCfg   health.Config
	healthState *health.Status
}

// agent is the process-wide state cmd/stark-agent holds: the websocket
// connection to the orchestrator, the containerd-backed runtime, every
// pod currently running, and the peer data channels open to other nodes.
type agent struct {
	nodeName       string
	runtime        *agentruntime.Runtime
	conn           *websocket.Conn
	logger         zerolog.Logger
	peerListenAddr string

	writeMu sync.Mutex

	mu    sync.Mutex
	pods  map[string]*trackedPod
	cache *agentnet.TargetCache
	peers map[string]*agentconn.Channel

	resolveMu  sync.Mutex
	resolving  map[string]chan sessionhub.TargetResolvedPayload
}

func newAgent(nodeName string, runtime *agentruntime.Runtime, conn *websocket.Conn, logger zerolog.Logger, peerListenAddr string) *agent {
	return &agent{
		nodeName:       nodeName,
		runtime:        runtime,
		conn:           conn,
		logger:         logger,
		peerListenAddr: peerListenAddr,
		pods:           make(map[string]*trackedPod),
		cache:          agentnet.NewTargetCache(),
		peers:          make(map[string]*agentconn.Channel),
		resolving:      make(map[string]chan sessionhub.TargetResolvedPayload),
	}
}

func (a *agent) writeEnvelope(env sessionhub.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

func (a *agent) sendAuth(token string) error {
	payload, _ := json.Marshal(sessionhub.AuthPayload{Token: token})
	return a.writeEnvelope(sessionhub.Envelope{Type: sessionhub.MsgAuth, Payload: payload})
}

func (a *agent) sendRegister(capabilities []string) error {
	payload, _ := json.Marshal(sessionhub.RegisterPayload{
		NodeName:     a.nodeName,
		Capabilities: capabilities,
	})
	return a.writeEnvelope(sessionhub.Envelope{Type: sessionhub.MsgRegister, Payload: payload})
}

func (a *agent) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat(ctx)
		}
	}
}

func (a *agent) sendHeartbeat(ctx context.Context) {
	a.mu.Lock()
	tracked := make(map[string]*trackedPod, len(a.pods))
	for podID, t := range a.pods {
		tracked[podID] = t
	}
	a.mu.Unlock()

	entries := make([]sessionhub.PodStatusEntry, 0, len(tracked))
	for podID, t := range tracked {
		alive, _ := a.runtime.PodRunning(ctx, t.containerID)

		healthy := alive
		if alive && t.checker != nil {
			checkCtx, cancel := context.WithTimeout(ctx, t.healthCfg.Timeout)
			result := t.checker.Check(checkCtx)
			cancel()
			t.healthState.Update(result, t.healthCfg)
			healthy = t.healthState.Healthy || t.healthState.InStartPeriod(t.healthCfg)
		}

		entries = append(entries, sessionhub.PodStatusEntry{PodID: podID, Alive: alive, Healthy: healthy})
	}

	payload, _ := json.Marshal(sessionhub.HeartbeatPayload{PodStatuses: entries})
	if err := a.writeEnvelope(sessionhub.Envelope{Type: sessionhub.MsgHeartbeat, Payload: payload}); err != nil {
		a.logger.Warn().Err(err).Msg("heartbeat send failed")
	}
}

func (a *agent) readLoop() error {
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			return err
		}
		var env sessionhub.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		a.dispatch(env)
	}
}

func (a *agent) dispatch(env sessionhub.Envelope) {
	switch env.Type {
	case sessionhub.MsgPodDeploy:
		a.handleDeploy(env)
	case sessionhub.MsgPodStop:
		a.handleStop(env)
	case sessionhub.MsgSignalOffer, sessionhub.MsgSignalAnswer:
		a.handleSignal(env)
	case sessionhub.MsgSignalICE:
		// No candidate negotiation needed over a direct TCP channel; accepted
		// for wire compatibility and otherwise ignored.
	case sessionhub.MsgTargetResolved:
		a.handleTargetResolved(env)
	case sessionhub.MsgGroupMembers, sessionhub.MsgGroupQuery:
		// Informational frames this binary does not yet expose to pack code;
		// dropped.
	}
}

// resolveTarget answers *.internal addressing for serviceID (§4.8 step
// 2): a cache hit returns immediately, a miss sends a target:resolve
// frame over the hub connection and blocks for the matching
// target:resolved reply.
func (a *agent) resolveTarget(serviceID string) (types.TargetCacheEntry, error) {
	if entry, ok := a.cache.Lookup(serviceID, time.Now()); ok {
		return entry, nil
	}

	correlationID := serviceID + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	reply := make(chan sessionhub.TargetResolvedPayload, 1)
	a.resolveMu.Lock()
	a.resolving[correlationID] = reply
	a.resolveMu.Unlock()
	defer func() {
		a.resolveMu.Lock()
		delete(a.resolving, correlationID)
		a.resolveMu.Unlock()
	}()

	payload, _ := json.Marshal(sessionhub.TargetResolvePayload{ServiceID: serviceID})
	if err := a.writeEnvelope(sessionhub.Envelope{Type: sessionhub.MsgTargetResolve, CorrelationID: correlationID, Payload: payload}); err != nil {
		return types.TargetCacheEntry{}, err
	}

	select {
	case resolved := <-reply:
		if resolved.Err != "" {
			return types.TargetCacheEntry{}, fmt.Errorf("%s", resolved.Err)
		}
		entry := types.TargetCacheEntry{
			ServiceID:    resolved.ServiceID,
			TargetPodID:  resolved.TargetPodID,
			TargetNodeID: resolved.TargetNodeID,
			ExpiresAt:    time.UnixMilli(resolved.ExpiresAtMs),
			Health:       types.HealthOK,
		}
		a.cache.Store(entry)
		return entry, nil
	case <-time.After(10 * time.Second):
		return types.TargetCacheEntry{}, fmt.Errorf("target:resolve for %s timed out", serviceID)
	}
}

func (a *agent) handleTargetResolved(env sessionhub.Envelope) {
	var payload sessionhub.TargetResolvedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}
	a.resolveMu.Lock()
	reply, ok := a.resolving[env.CorrelationID]
	a.resolveMu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- payload:
	default:
	}
}

func (a *agent) handleDeploy(env sessionhub.Envelope) {
	ctx := context.Background()
	var payload sessionhub.PodDeployPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}

	pack := &types.Pack{ID: payload.PackID, Version: payload.PackVersion, BundleRef: payload.BundleRef}
	pod := &types.Pod{ID: payload.PodID, ServiceID: payload.ServiceID, DeploymentID: payload.DeploymentID, PackID: payload.PackID}
	a.logger.Info().Str("pod_id", payload.PodID).Str("bundle_ref", payload.BundleRef).Msg("deploying pod")

	if err := a.runtime.PullBundle(ctx, payload.BundleRef); err != nil {
		a.logger.Error().Err(err).Str("pod_id", payload.PodID).Msg("pull bundle failed")
		a.reportStatus(payload.PodID, types.PodFailed, err.Error())
		return
	}

	env2 := payload.Env
	if env2 == nil {
		env2 = map[string]string{}
	}
	env2["STARK_POD_TOKEN"] = payload.PodToken
	env2["STARK_REFRESH_TOKEN"] = payload.RefreshToken

	containerID, err := a.runtime.CreatePod(ctx, pod, pack, env2)
	if err != nil {
		a.reportStatus(payload.PodID, types.PodFailed, err.Error())
		return
	}

	creator, outW, errW := agentruntime.NewPodCIOCreator(payload.PodID, os.Stdout)
	if err := a.runtime.StartPod(ctx, containerID, creator); err != nil {
		a.reportStatus(payload.PodID, types.PodFailed, err.Error())
		return
	}
	defer func() { outW.Flush(); errW.Flush() }()

	lc := agentruntime.NewLifecycle()
	lc.MarkRunning()

	port := defaultPodPort(pack)
	healthCfg := health.DefaultConfig()
	tracked := &trackedPod{
		containerID: containerID,
		lifecycle:   lc,
		port:        port,
		checker:     buildHealthChecker(pack, containerID, port, a.runtime),
		healthCfg:   healthCfg,
		healthState: health.NewStatus(),
	}

	a.mu.Lock()
	a.pods[payload.PodID] = tracked
	a.mu.Unlock()

	a.reportStatus(payload.PodID, types.PodRunning, "")
}

func (a *agent) handleStop(env sessionhub.Envelope) {
	ctx := context.Background()
	var payload sessionhub.PodStopPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}

	a.mu.Lock()
	tracked, ok := a.pods[payload.PodID]
	a.mu.Unlock()
	if !ok {
		return
	}

	grace := time.Duration(payload.GracePeriod) * time.Millisecond
	if grace <= 0 {
		grace = 10 * time.Second
	}
	tracked.lifecycle.Shutdown(payload.Reason, grace)

	if err := a.runtime.StopPod(ctx, tracked.containerID, grace); err != nil {
		a.reportStatus(payload.PodID, types.PodFailed, err.Error())
		return
	}

	a.mu.Lock()
	delete(a.pods, payload.PodID)
	a.mu.Unlock()

	a.reportStatus(payload.PodID, types.PodStopped, "")
}

func (a *agent) reportStatus(podID string, status types.PodStatus, message string) {
	payload, _ := json.Marshal(sessionhub.PodStatusPayload{PodID: podID, Status: string(status), Message: message})
	_ = a.writeEnvelope(sessionhub.Envelope{Type: sessionhub.MsgPodStatus, Payload: payload})
}

// handleSignal implements both sides of the offer/answer exchange that
// substitutes for WebRTC negotiation here (see pkg/agentconn's doc
// comment): a signal:offer carries the caller's advertised dial address
// and is answered with this node's own; a signal:answer is the cue to
// actually dial the address it carries.
func (a *agent) handleSignal(env sessionhub.Envelope) {
	var payload sessionhub.SignalPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}
	var addr struct {
		Addr string `json:"addr"`
	}
	if err := json.Unmarshal(payload.Data, &addr); err != nil || addr.Addr == "" {
		return
	}

	switch env.Type {
	case sessionhub.MsgSignalOffer:
		a.replyWithAnswer(payload)
	case sessionhub.MsgSignalAnswer:
		ch, err := agentconn.DialPeer(payload.FromPodID, addr.Addr, a)
		if err != nil {
			a.logger.Warn().Err(err).Str("from_pod", payload.FromPodID).Msg("dial peer after signal:answer failed")
			return
		}
		a.mu.Lock()
		a.peers[payload.FromPodID] = ch
		a.mu.Unlock()
	}
}

// replyWithAnswer advertises this node's own peer-listen address back to
// the offering pod, the roles of FromPodID/ToPodID swapped since the
// reply travels the opposite direction.
func (a *agent) replyWithAnswer(offer sessionhub.SignalPayload) {
	data, _ := json.Marshal(struct {
		Addr string `json:"addr"`
	}{Addr: a.peerListenAddr})
	answer, _ := json.Marshal(sessionhub.SignalPayload{
		FromPodID: offer.ToPodID,
		ToPodID:   offer.FromPodID,
		Data:      data,
		Signature: offer.Signature,
	})
	_ = a.writeEnvelope(sessionhub.Envelope{Type: sessionhub.MsgSignalAnswer, Payload: answer})
}

func (a *agent) onPeerAccepted(remoteNodeID string, ch *agentconn.Channel) {
	a.mu.Lock()
	a.peers[remoteNodeID] = ch
	a.mu.Unlock()
}

func (a *agent) closeAllPeers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.peers {
		ch.Close()
	}
}

// HandleRequest implements pkg/agentconn's RequestHandler by proxying an
// inbound *.internal call to the local pod's own HTTP port.
func (a *agent) HandleRequest(req agentnet.RequestEnvelope) agentnet.ResponseEnvelope {
	a.mu.Lock()
	tracked, ok := a.pods[req.TargetPodID]
	a.mu.Unlock()
	if !ok {
		return agentnet.ResponseEnvelope{Err: "target pod " + req.TargetPodID + " is not running on this node"}
	}

	httpReq, err := http.NewRequest(req.Method, "http://127.0.0.1:"+tracked.port+req.Path, strings.NewReader(string(req.Body)))
	if err != nil {
		return agentnet.ResponseEnvelope{Err: err.Error()}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return agentnet.ResponseEnvelope{Err: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return agentnet.ResponseEnvelope{Err: err.Error()}
	}
	return agentnet.ResponseEnvelope{Status: resp.StatusCode, Body: body}
}

// defaultPodPort resolves the local port a pack's process listens on,
// the same metadata-driven convention agentruntime.entrypointArgs uses
// for the process's command line.
func defaultPodPort(pack *types.Pack) string {
	if p, ok := pack.Metadata["port"]; ok {
		if _, err := strconv.Atoi(p); err == nil {
			return p
		}
	}
	return "8080"
}

// buildHealthChecker resolves a pack's health check the same
// metadata-driven way defaultPodPort resolves its listen port. Defaults to
// an HTTP probe against the pod's own port; healthcheck.type opts into a
// TCP dial or an in-pod exec probe run through the agent's own runtime.
func buildHealthChecker(pack *types.Pack, containerID, port string, runtime *agentruntime.Runtime) health.Checker {
	switch pack.Metadata["healthcheck.type"] {
	case "tcp":
		return health.NewTCPChecker("127.0.0.1:" + port)
	case "exec":
		command := strings.Fields(pack.Metadata["healthcheck.command"])
		return health.NewExecChecker(command).WithPod(containerID, runtime)
	default:
		return health.NewHTTPChecker(fmt.Sprintf("http://127.0.0.1:%s/", port))
	}
}

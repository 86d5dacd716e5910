// Package agent is the SDK facade: it wires identity, crypto, the local contact cache, the retry queue, the
// community manager, and the messaging client into one Agent, exposing delivery-status, community-status, and
// received-message events as channels.
package agent

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/cc4me/cc4me/pkg/agent/cache"
	"github.com/cc4me/cc4me/pkg/agent/community"
	"github.com/cc4me/cc4me/pkg/agent/messaging"
	"github.com/cc4me/cc4me/pkg/agent/retryqueue"
	"github.com/cc4me/cc4me/pkg/agent/transport"
)

// Config configures a new Agent.
type Config struct {
	Name              string
	PrivateKey        ed25519.PrivateKey
	PublicKey         ed25519.PublicKey
	HomeCommunity     string
	PrimaryAPI        string
	FailoverAPI       string
	DataDir           string
	HeartbeatInterval time.Duration
	FailoverThreshold int
}

// Agent is a running SDK instance for one agent identity.
type Agent struct {
	cfg Config

	cache     *cache.Cache
	queue     *retryqueue.Queue
	community *community.Manager
	messaging *messaging.Client
	transport *transport.Client

	messages chan messaging.ReceivedMessage

	mu              sync.Mutex
	started         bool
	cancel          context.CancelFunc
	sendHeartbeatFn community.HeartbeatFunc
}

// New constructs an Agent. presence, refresher, and members supply the relay-backed lookups the messaging client
// needs; they are injected so the SDK facade never imports an HTTP relay client directly.
func New(cfg Config, presence messaging.PresenceChecker, refresher messaging.ContactRefresher,
	members messaging.GroupMemberLister) (*Agent, error) {
	c, err := cache.New(cfg.DataDir, cfg.HomeCommunity)
	if err != nil {
		return nil, fmt.Errorf("init contact cache: %w", err)
	}

	tr := transport.New(transport.DefaultTimeout)

	a := &Agent{
		cfg:       cfg,
		cache:     c,
		transport: tr,
		community: community.New(cfg.FailoverThreshold),
		messages:  make(chan messaging.ReceivedMessage, 64),
	}

	a.community.AddCommunity(cfg.HomeCommunity, cfg.PrimaryAPI, cfg.FailoverAPI)

	a.queue = retryqueue.New(a.sendQueuedEnvelope)
	a.messaging = messaging.New(cfg.Name, cfg.HomeCommunity, cfg.PrivateKey, cfg.PublicKey,
		c, a.queue, tr, presence, refresher, members)

	return a, nil
}

// sendQueuedEnvelope is the retry queue's SendFunc: it recovers the envelope stored in the entry's payload and
// attempts direct delivery to the recipient's cached endpoint.
func (a *Agent) sendQueuedEnvelope(ctx context.Context, e retryqueue.Entry) error {
	env, err := messaging.UnmarshalEnvelope(e.Payload)
	if err != nil {
		return err
	}

	contact, ok, err := a.cache.Get(a.cfg.HomeCommunity, e.Recipient)
	if err != nil {
		return err
	}
	if !ok || contact.Endpoint == "" {
		return fmt.Errorf("no cached endpoint for %s", e.Recipient)
	}
	return a.transport.Deliver(ctx, contact.Endpoint, env)
}

// Start launches the retry queue drive loop and the per-community heartbeat timers.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true

	a.queue.Start(runCtx)
	a.community.StartHeartbeats(runCtx, a.cfg.HeartbeatInterval, a.sendHeartbeat)
}

// sendHeartbeat delegates to the HeartbeatFunc supplied via WithHeartbeatFunc; it is a no-op until the host
// application wires in its authenticated PUT /presence call.
func (a *Agent) sendHeartbeat(ctx context.Context, communityName string) error {
	a.mu.Lock()
	fn := a.sendHeartbeatFn
	a.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, communityName)
}

// WithHeartbeatFunc overrides how this Agent sends heartbeats to a community's relay, used by the host application
// to wire in its authenticated HTTP client before calling Start.
func (a *Agent) WithHeartbeatFunc(fn community.HeartbeatFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendHeartbeatFn = fn
}

// Stop cancels the heartbeat timers and stops the retry queue. It does not flush the cache: the cache is written
// synchronously on every Upsert, so no writes are pending.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	a.cancel()
	a.queue.Stop()
	a.started = false
}

// Send delivers payload to a known contact, queuing it for retry if the contact is currently offline.
func (a *Agent) Send(ctx context.Context, to string, payload []byte) (messaging.SendResult, error) {
	return a.messaging.Send(ctx, to, payload, time.Now())
}

// SendToGroup fans payload out to every other active member of a group.
func (a *Agent) SendToGroup(ctx context.Context, groupID string, payload []byte) (messaging.GroupSendResult, error) {
	return a.messaging.SendToGroup(ctx, groupID, payload, time.Now())
}

// HandleIncoming verifies and decrypts an inbound envelope POSTed to this agent's endpoint, publishing the result on
// Messages().
func (a *Agent) HandleIncoming(ctx context.Context, env messaging.Envelope) error {
	msg, err := a.messaging.ReceiveMessage(ctx, env, time.Now())
	if err != nil {
		return err
	}
	if msg.Duplicate {
		return nil
	}
	select {
	case a.messages <- msg:
	default:
	}
	return nil
}

// Messages returns the channel of decrypted, verified inbound messages.
func (a *Agent) Messages() <-chan messaging.ReceivedMessage {
	return a.messages
}

// DeliveryStatus returns the channel of retry-queue delivery-status transitions.
func (a *Agent) DeliveryStatus() <-chan retryqueue.DeliveryStatusEvent {
	return a.queue.Events()
}

// CommunityStatus returns the channel of community failover/offline transitions.
func (a *Agent) CommunityStatus() <-chan community.StatusEvent {
	return a.community.Events()
}

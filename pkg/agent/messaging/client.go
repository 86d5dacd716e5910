package messaging

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cc4me/cc4me/pkg/agent/agenterr"
	"github.com/cc4me/cc4me/pkg/agent/cache"
	"github.com/cc4me/cc4me/pkg/agent/crypto"
	"github.com/cc4me/cc4me/pkg/agent/retryqueue"
)

// marshalEnvelope serializes an envelope for storage in the retry queue; the queue's SendFunc unmarshals it back
// before attempting delivery.
func marshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// UnmarshalEnvelope is the inverse of marshalEnvelope, used by a retry queue's SendFunc to recover the envelope
// stored in an Entry's Payload.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal queued envelope: %w", err)
	}
	return env, nil
}

// maxReplaySkew is the maximum allowed drift between an envelope's timestamp and the receiver's clock.
const maxReplaySkew = 5 * time.Minute

// groupMemberCacheTTL bounds how long a group's active member list is trusted before sendToGroup/receiveMessage
// re-fetches it.
const groupMemberCacheTTL = 60 * time.Second

// maxSeenGroupMessages bounds the group-message dedup set; the oldest entry is evicted on overflow.
const maxSeenGroupMessages = 1000

// groupFanoutConcurrency bounds how many recipients sendToGroup delivers to at once.
const groupFanoutConcurrency = 10

// deliveryTimeout bounds a single recipient delivery attempt during group fan-out.
const deliveryTimeout = 5 * time.Second

// PresenceChecker reports whether a contact is currently reachable and, if so, where.
type PresenceChecker interface {
	CheckPresence(ctx context.Context, name string) (online bool, endpoint string, err error)
}

// ContactRefresher re-fetches a single contact from the relay, used to recover from a cache miss.
type ContactRefresher interface {
	RefreshContact(ctx context.Context, name string) (cache.Contact, bool, error)
}

// GroupMemberLister returns the current active member usernames of a group.
type GroupMemberLister interface {
	ListActiveMembers(ctx context.Context, groupID string) ([]string, error)
}

// Delivery POSTs an envelope directly to a peer endpoint.
type Delivery interface {
	Deliver(ctx context.Context, endpoint string, env Envelope) error
}

// SendResult is the outcome of Client.Send.
type SendResult struct {
	Status    string // "delivered" | "queued" | "failed"
	MessageID string
	Err       *agenterr.Error
}

// ReceivedMessage is the decrypted, verified result of Client.ReceiveMessage.
type ReceivedMessage struct {
	Sender    string
	GroupID   string
	Plaintext []byte
	Verified  bool
	Duplicate bool
}

// GroupSendResult partitions the per-recipient outcome of Client.SendToGroup.
type GroupSendResult struct {
	Delivered []string
	Queued    []string
	Failed    []string
}

// Client implements the send/receive/sendToGroup control flow over a single agent identity: resolving contacts,
// deriving per-message shared keys, signing and verifying envelopes, and queuing deliveries that fail.
type Client struct {
	selfName  string
	community string
	priv      ed25519.PrivateKey
	pub       ed25519.PublicKey

	cache     *cache.Cache
	queue     *retryqueue.Queue
	delivery  Delivery
	presence  PresenceChecker
	refresher ContactRefresher
	members   GroupMemberLister

	mu               sync.Mutex
	groupMemberCache map[string]groupMemberCacheEntry
	seenOrder        []string
	seen             map[string]struct{}
}

type groupMemberCacheEntry struct {
	members  []string
	fetchedAt time.Time
}

// New constructs a Client for one agent identity within one community.
func New(selfName, community string, priv ed25519.PrivateKey, pub ed25519.PublicKey,
	c *cache.Cache, q *retryqueue.Queue, delivery Delivery, presence PresenceChecker,
	refresher ContactRefresher, members GroupMemberLister) *Client {
	return &Client{
		selfName:         selfName,
		community:        community,
		priv:             priv,
		pub:              pub,
		cache:            c,
		queue:            q,
		delivery:         delivery,
		presence:         presence,
		refresher:        refresher,
		members:          members,
		groupMemberCache: make(map[string]groupMemberCacheEntry),
		seen:             make(map[string]struct{}),
	}
}

// resolveContact returns a cached contact, refreshing once from the relay on a cache miss.
func (c *Client) resolveContact(ctx context.Context, name string) (cache.Contact, bool, error) {
	contact, ok, err := c.cache.Get(c.community, name)
	if err != nil {
		return cache.Contact{}, false, fmt.Errorf("read contact cache: %w", err)
	}
	if ok && contact.PublicKey != "" {
		return contact, true, nil
	}

	if c.refresher == nil {
		return cache.Contact{}, false, nil
	}
	refreshed, ok, err := c.refresher.RefreshContact(ctx, name)
	if err != nil {
		return cache.Contact{}, false, fmt.Errorf("refresh contact: %w", err)
	}
	if !ok || refreshed.PublicKey == "" {
		return cache.Contact{}, false, nil
	}
	if err := c.cache.Upsert(c.community, refreshed, time.Now()); err != nil {
		return cache.Contact{}, false, fmt.Errorf("persist refreshed contact: %w", err)
	}
	return refreshed, true, nil
}

// deriveSharedKey computes the symmetric key shared with peerPublicKeyB64, a base64-encoded Ed25519 public key.
func (c *Client) deriveSharedKey(peerName, peerPublicKeyB64 string) ([32]byte, error) {
	var zero [32]byte
	peerEdPub, err := base64.StdEncoding.DecodeString(peerPublicKeyB64)
	if err != nil {
		return zero, fmt.Errorf("decode peer public key: %w", err)
	}

	peerXPub, err := crypto.Ed25519PublicToX25519(ed25519.PublicKey(peerEdPub))
	if err != nil {
		return zero, fmt.Errorf("convert peer key: %w", err)
	}
	selfXPriv, err := crypto.Ed25519PrivateToX25519(c.priv)
	if err != nil {
		return zero, fmt.Errorf("convert own key: %w", err)
	}
	secret, err := crypto.SharedSecret(selfXPriv, peerXPub)
	if err != nil {
		return zero, fmt.Errorf("compute shared secret: %w", err)
	}
	return crypto.DeriveKey(secret, c.selfName, peerName)
}

func (c *Client) sign(env Envelope) (string, error) {
	data, err := env.SigningBytes()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(crypto.Sign(c.priv, data)), nil
}

// buildEnvelope encrypts plaintext for recipient and returns a signed envelope using messageID and now.
func (c *Client) buildEnvelope(envType, recipient, groupID, messageID string, plaintext []byte, peerPublicKeyB64 string, now time.Time) (Envelope, error) {
	key, err := c.deriveSharedKey(recipient, peerPublicKeyB64)
	if err != nil {
		return Envelope{}, err
	}
	nonce, ciphertext, err := crypto.Seal(key, messageID, plaintext)
	if err != nil {
		return Envelope{}, fmt.Errorf("encrypt payload: %w", err)
	}

	env := Envelope{
		Version:   EnvelopeVersion,
		Type:      envType,
		MessageID: messageID,
		Sender:    c.selfName,
		Recipient: recipient,
		GroupID:   groupID,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Payload:   NewPayload(nonce, ciphertext),
	}

	sig, err := c.sign(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("sign envelope: %w", err)
	}
	env.Signature = sig
	return env, nil
}

// Send encrypts payload for the named contact and delivers it directly if they are online, queuing it for retry
// otherwise.
func (c *Client) Send(ctx context.Context, to string, payload []byte, now time.Time) (SendResult, error) {
	messageID := uuid.NewString()

	contact, ok, err := c.resolveContact(ctx, to)
	if err != nil {
		return SendResult{}, err
	}
	if !ok {
		return SendResult{MessageID: messageID, Status: "failed",
			Err: agenterr.New(agenterr.CodeNotAContact, fmt.Sprintf("%s is not a contact", to))}, nil
	}

	env, err := c.buildEnvelope(TypeDirect, to, "", messageID, payload, contact.PublicKey, now)
	if err != nil {
		return SendResult{}, err
	}

	online, presenceEndpoint, err := c.presence.CheckPresence(ctx, to)
	if err != nil {
		return SendResult{}, fmt.Errorf("check presence: %w", err)
	}
	if !online {
		return c.enqueueOrFail(messageID, to, env, "", now), nil
	}

	endpoint := presenceEndpoint
	if endpoint == "" {
		endpoint = contact.Endpoint
	}
	if endpoint == "" {
		return SendResult{MessageID: messageID, Status: "failed",
			Err: agenterr.New(agenterr.CodeNoEndpoint, fmt.Sprintf("no known endpoint for %s", to))}, nil
	}

	deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := c.delivery.Deliver(deliverCtx, endpoint, env); err != nil {
		return c.enqueueOrFail(messageID, to, env, "", now), nil
	}

	return SendResult{MessageID: messageID, Status: "delivered"}, nil
}

func (c *Client) enqueueOrFail(messageID, recipient string, env Envelope, groupID string, now time.Time) SendResult {
	payload, err := marshalEnvelope(env)
	if err != nil {
		return SendResult{MessageID: messageID, Status: "failed",
			Err: agenterr.New(agenterr.CodeInvalidEnvelope, err.Error())}
	}
	if !c.queue.Enqueue(messageID, recipient, payload, groupID, now) {
		return SendResult{MessageID: messageID, Status: "failed",
			Err: agenterr.New(agenterr.CodeQueueFull, "retry queue is at capacity")}
	}
	return SendResult{MessageID: messageID, Status: "queued"}
}

// ReceiveMessage verifies, decrypts, and deduplicates an inbound envelope addressed to this agent.
func (c *Client) ReceiveMessage(ctx context.Context, env Envelope, now time.Time) (ReceivedMessage, error) {
	if env.Recipient != c.selfName {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeInvalidEnvelope, "envelope recipient does not match this agent")
	}

	contact, ok, err := c.resolveContact(ctx, env.Sender)
	if err != nil {
		return ReceivedMessage{}, err
	}
	if !ok {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeNotAContact, fmt.Sprintf("%s is not a known contact", env.Sender))
	}

	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeInvalidEnvelope, "unparseable timestamp")
	}
	if skew := now.Sub(ts); skew > maxReplaySkew || skew < -maxReplaySkew {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeInvalidEnvelope, "timestamp outside replay window")
	}

	edPub, err := base64.StdEncoding.DecodeString(contact.PublicKey)
	if err != nil {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeInvalidEnvelope, "malformed sender public key")
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeInvalidEnvelope, "malformed signature")
	}
	signingBytes, err := env.SigningBytes()
	if err != nil {
		return ReceivedMessage{}, err
	}
	if !crypto.Verify(ed25519.PublicKey(edPub), signingBytes, sig) {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeInvalidEnvelope, "signature verification failed")
	}

	if env.Type == TypeGroup {
		member, err := c.isActiveGroupMember(ctx, env.GroupID, env.Sender)
		if err != nil {
			return ReceivedMessage{}, err
		}
		if !member {
			return ReceivedMessage{}, agenterr.New(agenterr.CodeInvalidEnvelope, "sender is not an active group member")
		}

		if c.markSeenGroupMessage(env.MessageID) {
			return ReceivedMessage{Sender: env.Sender, GroupID: env.GroupID, Verified: true, Duplicate: true}, nil
		}
	}

	nonce, ciphertext, err := env.Payload.Decode()
	if err != nil {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeInvalidEnvelope, err.Error())
	}
	key, err := c.deriveSharedKey(env.Sender, contact.PublicKey)
	if err != nil {
		return ReceivedMessage{}, err
	}
	plaintext, err := crypto.Open(key, env.MessageID, nonce, ciphertext)
	if err != nil {
		return ReceivedMessage{}, agenterr.New(agenterr.CodeDecryptionFailed, "failed to decrypt message")
	}

	return ReceivedMessage{Sender: env.Sender, GroupID: env.GroupID, Plaintext: plaintext, Verified: true}, nil
}

// markSeenGroupMessage records messageID in the bounded dedup set and reports whether it was already present.
func (c *Client) markSeenGroupMessage(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[messageID]; ok {
		return true
	}
	c.seen[messageID] = struct{}{}
	c.seenOrder = append(c.seenOrder, messageID)
	if len(c.seenOrder) > maxSeenGroupMessages {
		oldest := c.seenOrder[0]
		c.seenOrder = c.seenOrder[1:]
		delete(c.seen, oldest)
	}
	return false
}

func (c *Client) isActiveGroupMember(ctx context.Context, groupID, name string) (bool, error) {
	members, err := c.groupMembers(ctx, groupID, false)
	if err != nil {
		return false, err
	}
	if containsName(members, name) {
		return true, nil
	}

	members, err = c.groupMembers(ctx, groupID, true)
	if err != nil {
		return false, err
	}
	return containsName(members, name), nil
}

func (c *Client) groupMembers(ctx context.Context, groupID string, forceRefresh bool) ([]string, error) {
	c.mu.Lock()
	entry, ok := c.groupMemberCache[groupID]
	c.mu.Unlock()

	if ok && !forceRefresh && time.Since(entry.fetchedAt) < groupMemberCacheTTL {
		return entry.members, nil
	}

	members, err := c.members.ListActiveMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}

	c.mu.Lock()
	c.groupMemberCache[groupID] = groupMemberCacheEntry{members: members, fetchedAt: time.Now()}
	c.mu.Unlock()

	return members, nil
}

func containsName(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}

// SendToGroup encrypts a distinct envelope per active group member and fans the deliveries out with bounded
// concurrency and a per-delivery timeout.
func (c *Client) SendToGroup(ctx context.Context, groupID string, payload []byte, now time.Time) (GroupSendResult, error) {
	members, err := c.groupMembers(ctx, groupID, false)
	if err != nil {
		return GroupSendResult{}, err
	}

	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m != c.selfName {
			recipients = append(recipients, m)
		}
	}

	messageID := uuid.NewString()
	result := GroupSendResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, groupFanoutConcurrency)

	for _, recipient := range recipients {
		recipient := recipient
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			status := c.deliverToGroupMember(ctx, groupID, messageID, recipient, payload, now)
			mu.Lock()
			switch status {
			case "delivered":
				result.Delivered = append(result.Delivered, recipient)
			case "queued":
				result.Queued = append(result.Queued, recipient)
			default:
				result.Failed = append(result.Failed, recipient)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return result, nil
}

func (c *Client) deliverToGroupMember(ctx context.Context, groupID, messageID, recipient string, payload []byte, now time.Time) string {
	contact, ok, err := c.resolveContact(ctx, recipient)
	if err != nil || !ok {
		return "failed"
	}

	env, err := c.buildEnvelope(TypeGroup, recipient, groupID, messageID, payload, contact.PublicKey, now)
	if err != nil {
		return "failed"
	}

	online, presenceEndpoint, err := c.presence.CheckPresence(ctx, recipient)
	if err != nil || !online {
		res := c.enqueueOrFail(messageID, recipient, env, groupID, now)
		return res.Status
	}

	endpoint := presenceEndpoint
	if endpoint == "" {
		endpoint = contact.Endpoint
	}
	if endpoint == "" {
		res := c.enqueueOrFail(messageID, recipient, env, groupID, now)
		return res.Status
	}

	deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := c.delivery.Deliver(deliverCtx, endpoint, env); err != nil {
		res := c.enqueueOrFail(messageID, recipient, env, groupID, now)
		return res.Status
	}
	return "delivered"
}

package messaging

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/cc4me/cc4me/pkg/agent/cache"
	"github.com/cc4me/cc4me/pkg/agent/retryqueue"
)

type stubPresence struct {
	online   bool
	endpoint string
}

func (s stubPresence) CheckPresence(ctx context.Context, name string) (bool, string, error) {
	return s.online, s.endpoint, nil
}

type stubRefresher struct{}

func (stubRefresher) RefreshContact(ctx context.Context, name string) (cache.Contact, bool, error) {
	return cache.Contact{}, false, nil
}

type stubMembers struct {
	members []string
}

func (s stubMembers) ListActiveMembers(ctx context.Context, groupID string) ([]string, error) {
	return s.members, nil
}

type stubDelivery struct {
	fail bool
}

func (s *stubDelivery) Deliver(ctx context.Context, endpoint string, env Envelope) error {
	if s.fail {
		return errDelivery
	}
	return nil
}

var errDelivery = &deliveryErr{}

type deliveryErr struct{}

func (*deliveryErr) Error() string { return "delivery failed" }

func newPeer(t *testing.T, community, name string) (ed25519.PrivateKey, ed25519.PublicKey, cache.Contact) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	contact := cache.Contact{
		Username:  name,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Endpoint:  "https://" + name + ".example",
		AddedAt:   time.Now(),
		Online:    true,
		Community: community,
	}
	return priv, pub, contact
}

func newClient(t *testing.T, name string, priv ed25519.PrivateKey, pub ed25519.PublicKey,
	presence PresenceChecker, delivery Delivery, members []string) (*Client, *cache.Cache, *retryqueue.Queue) {
	t.Helper()
	c, err := cache.New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	q := retryqueue.New(func(ctx context.Context, e retryqueue.Entry) error { return nil },
		retryqueue.WithTickInterval(time.Hour))

	client := New(name, "home", priv, pub, c, q, delivery, presence, stubRefresher{}, stubMembers{members: members})
	return client, c, q
}

func TestSendDeliversWhenOnline(t *testing.T) {
	t.Parallel()
	alicePriv, alicePub, _ := newPeer(t, "home", "alice")
	bobPriv, bobPub, bobContact := newPeer(t, "home", "bob")
	_ = bobPriv

	delivery := &stubDelivery{}
	client, c, _ := newClient(t, "alice", alicePriv, alicePub, stubPresence{online: true, endpoint: bobContact.Endpoint}, delivery, nil)
	if err := c.Upsert("home", bobContact, time.Now()); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	_ = bobPub

	res, err := client.Send(context.Background(), "bob", []byte("hello"), time.Now())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != "delivered" {
		t.Errorf("status = %s, want delivered", res.Status)
	}
}

func TestSendQueuesWhenOffline(t *testing.T) {
	t.Parallel()
	alicePriv, alicePub, _ := newPeer(t, "home", "alice")
	_, _, bobContact := newPeer(t, "home", "bob")

	client, c, _ := newClient(t, "alice", alicePriv, alicePub, stubPresence{online: false}, &stubDelivery{}, nil)
	if err := c.Upsert("home", bobContact, time.Now()); err != nil {
		t.Fatalf("seed contact: %v", err)
	}

	res, err := client.Send(context.Background(), "bob", []byte("hello"), time.Now())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != "queued" {
		t.Errorf("status = %s, want queued", res.Status)
	}
}

func TestSendFailsWhenNotAContact(t *testing.T) {
	t.Parallel()
	alicePriv, alicePub, _ := newPeer(t, "home", "alice")
	client, _, _ := newClient(t, "alice", alicePriv, alicePub, stubPresence{online: true}, &stubDelivery{}, nil)

	res, err := client.Send(context.Background(), "ghost", []byte("hello"), time.Now())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != "failed" || res.Err == nil || res.Err.Code != "not_a_contact" {
		t.Errorf("expected not_a_contact failure, got %+v", res)
	}
}

func TestSendThenReceiveRoundTrip(t *testing.T) {
	t.Parallel()
	alicePriv, alicePub, aliceContact := newPeer(t, "home", "alice")
	bobPriv, bobPub, bobContact := newPeer(t, "home", "bob")

	aliceClient, aliceCache, _ := newClient(t, "alice", alicePriv, alicePub, stubPresence{online: true, endpoint: bobContact.Endpoint}, &stubDelivery{}, nil)
	if err := aliceCache.Upsert("home", bobContact, time.Now()); err != nil {
		t.Fatalf("seed alice's cache: %v", err)
	}

	bobClient, bobCache, _ := newClient(t, "bob", bobPriv, bobPub, stubPresence{online: true}, &stubDelivery{}, nil)
	if err := bobCache.Upsert("home", aliceContact, time.Now()); err != nil {
		t.Fatalf("seed bob's cache: %v", err)
	}

	now := time.Now()
	messageID := "11111111-1111-1111-1111-111111111111"
	key, err := aliceClient.deriveSharedKey("bob", bobContact.PublicKey)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	env, err := aliceClient.buildEnvelope(TypeDirect, "bob", "", messageID, []byte("hi bob"), bobContact.PublicKey, now)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	_ = key

	received, err := bobClient.ReceiveMessage(context.Background(), env, now)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if string(received.Plaintext) != "hi bob" {
		t.Errorf("plaintext = %q, want %q", received.Plaintext, "hi bob")
	}
	if !received.Verified {
		t.Error("expected Verified = true")
	}
}

func TestReceiveMessageRejectsStaleTimestamp(t *testing.T) {
	t.Parallel()
	alicePriv, alicePub, aliceContact := newPeer(t, "home", "alice")
	bobPriv, bobPub, bobContact := newPeer(t, "home", "bob")

	aliceClient, aliceCache, _ := newClient(t, "alice", alicePriv, alicePub, stubPresence{online: true}, &stubDelivery{}, nil)
	if err := aliceCache.Upsert("home", bobContact, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	bobClient, bobCache, _ := newClient(t, "bob", bobPriv, bobPub, stubPresence{online: true}, &stubDelivery{}, nil)
	if err := bobCache.Upsert("home", aliceContact, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stale := time.Now().Add(-10 * time.Minute)
	env, err := aliceClient.buildEnvelope(TypeDirect, "bob", "", "m1", []byte("hi"), bobContact.PublicKey, stale)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}

	if _, err := bobClient.ReceiveMessage(context.Background(), env, time.Now()); err == nil {
		t.Fatal("expected an error for a stale timestamp")
	}
}

func TestSendToGroupPartitionsByOutcome(t *testing.T) {
	t.Parallel()
	alicePriv, alicePub, _ := newPeer(t, "home", "alice")
	_, _, bobContact := newPeer(t, "home", "bob")
	_, _, carolContact := newPeer(t, "home", "carol")

	presenceByName := map[string]bool{"bob": true, "carol": false}
	presence := presenceFunc(func(ctx context.Context, name string) (bool, string, error) {
		return presenceByName[name], "https://" + name + ".example", nil
	})

	client, c, _ := newClient(t, "alice", alicePriv, alicePub, presence, &stubDelivery{}, []string{"alice", "bob", "carol"})
	if err := c.Upsert("home", bobContact, time.Now()); err != nil {
		t.Fatalf("seed bob: %v", err)
	}
	if err := c.Upsert("home", carolContact, time.Now()); err != nil {
		t.Fatalf("seed carol: %v", err)
	}

	result, err := client.SendToGroup(context.Background(), "g1", []byte("hi all"), time.Now())
	if err != nil {
		t.Fatalf("SendToGroup: %v", err)
	}
	if len(result.Delivered) != 1 || result.Delivered[0] != "bob" {
		t.Errorf("Delivered = %v, want [bob]", result.Delivered)
	}
	if len(result.Queued) != 1 || result.Queued[0] != "carol" {
		t.Errorf("Queued = %v, want [carol]", result.Queued)
	}
}

type presenceFunc func(ctx context.Context, name string) (bool, string, error)

func (f presenceFunc) CheckPresence(ctx context.Context, name string) (bool, string, error) {
	return f(ctx, name)
}

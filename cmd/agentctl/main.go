// Command agentctl is a thin, scriptable client for the agent SDK: it generates an identity, walks it through
// email verification and registration against a relay, and sends or receives messages over pkg/agent.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cc4me/cc4me/pkg/agent"
	"github.com/cc4me/cc4me/pkg/agent/crypto"
	"github.com/cc4me/cc4me/pkg/agent/messaging"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "verify-send":
		err = runVerifySend(os.Args[2:])
	case "verify-confirm":
		err = runVerifyConfirm(os.Args[2:])
	case "register":
		err = runRegister(os.Args[2:])
	case "send":
		err = runSend(os.Args[2:])
	case "listen":
		err = runListen(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: agentctl <command> [flags]

Commands:
  keygen           -out <file>                         Generate an identity keypair and write it to a JSON file.
  verify-send      -relay <url> -name <n> -email <e>    Request a verification code by email.
  verify-confirm   -relay <url> -name <n> -code <c>     Confirm a verification code.
  register         -relay <url> -name <n> -email <e> -key <file> [-endpoint <url>]
  send             -relay <url> -name <n> -key <file> -community <c> -data-dir <dir> -to <n> -message <text>
  listen           -relay <url> -name <n> -key <file> -community <c> -data-dir <dir> -addr <:port> [-endpoint <url>]`)
}

type identityFile struct {
	Name       string `json:"name,omitempty"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

func runKeygen(args []string) error {
	fs := newFlagSet("keygen")
	out := fs.String("out", "", "path to write the identity JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("-out is required")
	}

	pub, priv, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	id := identityFile{
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.WriteFile(*out, data, 0600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	fmt.Println("public key:", id.PublicKey)
	return nil
}

func loadIdentity(path string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read identity file: %w", err)
	}
	var id identityFile
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, nil, fmt.Errorf("parse identity file: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(id.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode public key: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(id.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decode private key: %w", err)
	}
	return ed25519.PublicKey(pub), ed25519.PrivateKey(priv), nil
}

func runVerifySend(args []string) error {
	fs := newFlagSet("verify-send")
	relay := fs.String("relay", "", "relay base URL")
	name := fs.String("name", "", "agent name")
	email := fs.String("email", "", "owner email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body := map[string]string{"agentName": *name, "email": *email}
	return postUnauthenticated(*relay+"/verify/send", body)
}

func runVerifyConfirm(args []string) error {
	fs := newFlagSet("verify-confirm")
	relay := fs.String("relay", "", "relay base URL")
	name := fs.String("name", "", "agent name")
	code := fs.String("code", "", "verification code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body := map[string]string{"agentName": *name, "code": *code}
	return postUnauthenticated(*relay+"/verify/confirm", body)
}

func runRegister(args []string) error {
	fs := newFlagSet("register")
	relay := fs.String("relay", "", "relay base URL")
	name := fs.String("name", "", "agent name")
	email := fs.String("email", "", "owner email")
	key := fs.String("key", "", "path to the identity JSON file")
	endpoint := fs.String("endpoint", "", "this agent's delivery endpoint (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, _, err := loadIdentity(*key)
	if err != nil {
		return err
	}

	body := map[string]any{
		"name":       *name,
		"publicKey":  base64.StdEncoding.EncodeToString(pub),
		"ownerEmail": *email,
	}
	if *endpoint != "" {
		body["endpoint"] = *endpoint
	}
	return postUnauthenticated(*relay+"/registry/agents", body)
}

func postUnauthenticated(url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := http.Post(url, "application/json", jsonReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	fmt.Println("ok")
	return nil
}

func buildAgent(relayURL, name, community, dataDir string, pub ed25519.PublicKey, priv ed25519.PrivateKey, endpoint string) (*agent.Agent, *relayClient, error) {
	rc := newRelayClient(relayURL, name, priv)

	a, err := agent.New(agent.Config{
		Name:              name,
		PrivateKey:        priv,
		PublicKey:         pub,
		HomeCommunity:     community,
		PrimaryAPI:        relayURL,
		DataDir:           dataDir,
		HeartbeatInterval: time.Minute,
		FailoverThreshold: 3,
	}, rc, rc, rc)
	if err != nil {
		return nil, nil, fmt.Errorf("construct agent: %w", err)
	}
	a.WithHeartbeatFunc(func(ctx context.Context, _ string) error {
		return rc.sendHeartbeat(ctx, endpoint)
	})
	return a, rc, nil
}

func runSend(args []string) error {
	fs := newFlagSet("send")
	relay := fs.String("relay", "", "relay base URL")
	name := fs.String("name", "", "agent name")
	key := fs.String("key", "", "path to the identity JSON file")
	community := fs.String("community", "", "home community name")
	dataDir := fs.String("data-dir", "", "local cache/queue directory")
	to := fs.String("to", "", "recipient agent name")
	message := fs.String("message", "", "plaintext message")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, priv, err := loadIdentity(*key)
	if err != nil {
		return err
	}
	a, _, err := buildAgent(*relay, *name, *community, *dataDir, pub, priv, "")
	if err != nil {
		return err
	}

	res, err := a.Send(context.Background(), *to, []byte(*message))
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if res.Status == "failed" && res.Err != nil {
		return fmt.Errorf("send failed: %s: %s", res.Err.Code, res.Err.Message)
	}
	fmt.Printf("message %s: %s\n", res.MessageID, res.Status)
	return nil
}

func runListen(args []string) error {
	fs := newFlagSet("listen")
	relay := fs.String("relay", "", "relay base URL")
	name := fs.String("name", "", "agent name")
	key := fs.String("key", "", "path to the identity JSON file")
	community := fs.String("community", "", "home community name")
	dataDir := fs.String("data-dir", "", "local cache/queue directory")
	addr := fs.String("addr", ":8090", "address this agent listens on for incoming deliveries")
	endpoint := fs.String("endpoint", "", "this agent's publicly reachable delivery endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, priv, err := loadIdentity(*key)
	if err != nil {
		return err
	}
	a, _, err := buildAgent(*relay, *name, *community, *dataDir, pub, priv, *endpoint)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	go func() {
		for msg := range a.Messages() {
			fmt.Printf("[%s] %s: %s\n", msg.Sender, boolLabel(msg.Verified), string(msg.Plaintext))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var env messaging.Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, "malformed envelope", http.StatusBadRequest)
			return
		}
		if err := a.HandleIncoming(r.Context(), env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	log.Info().Str("addr", *addr).Msg("agentctl listening for incoming deliveries")
	return http.ListenAndServe(*addr, mux)
}

func boolLabel(verified bool) string {
	if verified {
		return "verified"
	}
	return "unverified"
}

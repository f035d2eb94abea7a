//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Integration tests require a broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_StatusAndRetainedPublish(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "relay-int-publish"
	cfg.TopicPrefix = "relay-int"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, cfg)
	if err != nil {
		t.Skipf("broker not reachable: %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	topic := client.Topics().Presence("int-device")
	if err := client.PublishRetained(topic, []byte(`{"online":true}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	got := make(chan []byte, 1)
	opts := pahomqtt.NewClientOptions().AddBroker("tcp://127.0.0.1:1883").SetClientID("relay-int-reader")
	reader := pahomqtt.NewClient(opts)
	if tok := reader.Connect(); tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		t.Fatalf("reader connect: %v", tok.Error())
	}
	defer reader.Disconnect(100)

	reader.Subscribe(topic, 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		select {
		case got <- m.Payload():
		default:
		}
	})

	select {
	case payload := <-got:
		var v map[string]bool
		if err := json.Unmarshal(payload, &v); err != nil || !v["online"] {
			t.Errorf("retained payload = %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained presence not delivered")
	}
}

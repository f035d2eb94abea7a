// Package mqtt publishes relay state to an MQTT broker.
//
// The relay mirrors device presence and its own activity onto MQTT so that
// other services can follow the relay without opening a WebSocket:
//
//	relay ──► broker ──► dashboards, alerting, home automation
//
// This package manages:
//   - Connection with auto-reconnect and exponential backoff
//   - Publishing with QoS and retained flags
//   - A retained status topic with Last Will for crash detection
//   - The relay topic tree (see Topics)
//
// Use TLS (mqtt.broker.tls) outside local development.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().Presence("pump-01")
//	err = client.PublishRetained(topic, []byte(`{"online":true}`))
package mqtt

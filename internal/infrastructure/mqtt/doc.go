// Package mqtt publishes audit records to an MQTT broker.
//
// The client connects once at startup with auto-reconnect, announces the
// logger as online on a retained status topic, and registers a Last Will
// so subscribers see it go offline if the process dies. Audit records are
// published as events (not retained) on one topic per device:
//
//	<prefix>/audit/<device>
//	<prefix>/system/status
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().AuditRecord("10.0.0.5")
//	client.Publish(topic, payload, 1, false)
package mqtt

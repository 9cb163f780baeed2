// Package influxdb writes audit activity to InfluxDB.
//
// It wraps the influxdb-client-go v2 non-blocking write API: points are
// batched and flushed in the background, and write failures are reported
// through the SetOnError callback rather than to the caller.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePointWithTime("audit_events",
//	    map[string]string{"device": "10.0.0.5"},
//	    map[string]interface{}{"count": 1},
//	    time.Now())
//
// All methods are safe for concurrent use.
package influxdb

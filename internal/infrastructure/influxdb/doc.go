// Package influxdb writes relay metrics to InfluxDB v2.
//
// Two measurements are written:
//   - relay_activity: one point per lifecycle event (login, eviction, command)
//   - relay_connections: periodic gauge of connections by identity class
//
// Writes are non-blocking and batched according to influxdb.batch_size and
// influxdb.flush_interval. Batch errors are delivered to the SetOnError
// callback; connection and health check errors are returned directly.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteActivity("relay-001", "device_online", "pump-01", time.Now())
package influxdb

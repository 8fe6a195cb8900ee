// Package influxdb mirrors stored telemetry into InfluxDB.
//
// SQLite is the system of record. When influxdb.enabled is set, a Mirror is
// registered as an ingest observer and copies each stored reading, relay
// event and alert as a point:
//
//	soil_moisture  tags: site               fields: value, analog, relay_on
//	relay_events   tags: site, action       fields: reason, correlated_value
//	alerts         tags: site, kind, level  fields: message, id
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	mirror := influxdb.NewMirror(client, cfg.Site.ID)
//
// # Error Handling
//
// Writes are non-blocking and batched (batch_size, flush_interval). Write
// failures are delivered to the SetOnError callback and logged; they never
// affect ingestion. Connection and health check errors are returned directly.
// Client.Stats reports point and error counts; the API includes them in
// GET /api/v1/system/status.
package influxdb

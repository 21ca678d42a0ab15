// Package influxdb mirrors dispenser telemetry into InfluxDB v2.
//
// The replica store keeps only the most recent 1000 readings and door
// events per device. When influxdb.enabled is set, every ingested
// reading, door transition and emergency press is also written here as
// a batched point so long-term history lives outside the document store.
package influxdb

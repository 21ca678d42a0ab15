// Package mqtt connects medtwin to the dispenser fleet broker.
//
// Dispensers use a flat topic scheme, {deviceId}/{suffix}:
//
//	disp1/door                {"door":1,"time":"09:15:00"}
//	disp1/emergency           "1"
//	disp1/environmental_data  {"avg_temperature":22.5,"avg_humidity":41,"time":"09:15:00"}
//	disp1/assoc               "1" (pairing button)
//	disp1/taken               "1" (legacy dose pulse)
//	disp1/notification        "1" (outbound wake)
//	disp1/message             display text (outbound)
//	all_devices/led_states    broadcast (outbound)
//
// Inbound traffic is handed from the paho router to an Inbox, a bounded
// channel drained by one consumer goroutine per topic class.
//
// The client tracks subscriptions, restores them on reconnect and keeps
// a retained online/offline record (with LWT) on medtwin/system/status.
package mqtt

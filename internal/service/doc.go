// Package service implements the domain services that can be attached
// to a twin.
//
// The set of kinds is closed: MedicationReminder, DoorEvent,
// EnvironmentalMonitoring, EmergencyRequest and IrregularityAlert. Each
// kind is a concrete type behind the Service interface; kinds with
// periodic behaviour also implement Executor.
//
// # Caches
//
// Services that remember per-device state keep it in instance fields,
// never in package variables, and document when entries are evicted:
//
//   - MedicationReminder: last send and in-flight reservation per
//     replica, dropped once older than the cooldown or on Reset.
//   - DoorEvent: the open episode already notified per replica, dropped
//     when the door is seen closed.
//
// A twin owns one instance per attached kind, so caches never leak
// across twins.
package service

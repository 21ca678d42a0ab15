// Package notify delivers operator notifications.
//
// The Gateway resolves who should hear about a twin's alert and sends
// the message through a Transport. Recipients are resolved in order,
// stopping at the first non-empty set:
//
//  1. the twin's active (logged-in) operators
//  2. the union of active operators on the owner's other twins
//  3. the configured fallback operator
//
// Delivery is best effort per recipient. The Gateway reports how many
// recipients were reached and returns ErrDelivery only when every
// delivery failed.
package notify

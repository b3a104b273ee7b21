// Package model defines the value types shared by every layer of the
// management core: resource addresses, operations and the untyped structured
// values held by resources.
//
// # Addresses
//
// An Address is an ordered list of (key, value) segments:
//
//	addr := model.Pairs("subsystem", "messaging", "server", "default")
//	fmt.Println(addr) // /subsystem=messaging/server=default
//
// Addresses are comparable with == and usable as map keys. A segment value of
// "#" or "*" turns the address into a pattern, which is only meaningful for
// registration lookups and notification fallback, never for tree navigation.
//
// # Operations
//
// An Operation names a request against one address. Its JSON form is the
// flat structure {"operation": ..., "address": [...], <params>}.
package model

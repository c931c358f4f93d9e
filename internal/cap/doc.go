// Package cap implements per-VPE capability tables and the derivation forest
// that links capabilities across tables.
//
// A capability names a kernel object within one table. Capabilities created
// from another capability (derived memory windows, send gates of a receive
// gate, copies handed out by Exchange) become its children. Revoke destroys a
// capability together with all of its descendants, in any table, children
// before parents. Objects count the capabilities referencing them and are torn
// down when the last one goes away.
//
// The package does no locking. The kernel serializes every mutation.
package cap

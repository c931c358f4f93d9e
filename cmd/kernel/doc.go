// Command kernel boots a simulated capability machine and serves an
// introspection API for it.
//
// Configuration comes from the environment (KERNEL_*, MEM_*, HTTP_*, LOG_*,
// RATE_LIMIT_*) and an optional platform description:
//
//	kernel -platform platform.yaml -dev -trace
//
// The process runs until SIGINT or SIGTERM, then revokes every booted VPE.
// SIGHUP re-reads LOG_LEVEL; PUT /log/level changes it over HTTP.
package main

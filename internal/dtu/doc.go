// Package dtu simulates the Data Transfer Unit of every processing element.
//
// Each PE owns one DTU with a fixed number of endpoints. The kernel configures
// endpoints as send, receive or memory endpoints; afterwards VPEs transfer data
// through them without kernel involvement. Receive endpoints own a ring
// buffer of fixed-size slots, send endpoints carry a label and a credit
// budget, and memory endpoints are windows onto physical memory. A NoC routes
// transfers between DTUs.
package dtu

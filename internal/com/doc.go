// Package com is the user-level communication library of a VPE.
//
// An Env bundles the kernel interface and the DTU of one VPE and hands out
// selectors, endpoints and receive buffer space. Gates wrap capabilities:
// RecvGate receives messages into a ring buffer, SendGate sends to a
// RecvGate under a credit budget, MemGate accesses physical memory. Gates
// are activated on an endpoint lazily, on first use.
//
//	rgate, err := com.NewRecvGate(env, 8, 12)
//	if err != nil {
//		return err
//	}
//	defer rgate.Close()
//
//	sgate, err := com.NewSendGateWith(com.NewSGateArgs(rgate).Credits(4).Label(0x1234))
package com

// Package config loads process configuration from the environment and the
// optional platform description named by KERNEL_PLATFORM.
//
// Environment variables carry defaults for every value. A platform file
// (YAML or TOML) overrides the machine shape and lists memory modules and
// boot VPEs:
//
//	name: two-module
//	pes: 4
//	endpoints: 16
//	memory:
//	  - {id: 0, size: 1048576}
//	  - {id: 1, size: 4194304}
//	boot:
//	  - {name: echo, program: echo}
package config

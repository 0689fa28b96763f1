// Package core defines the address spaces and identifiers shared by the
// tegra command-pipeline packages.
//
// Three address spaces coexist:
//
//   - CpuAddr: a guest virtual address, resolvable to process-local
//     memory through the emulated guest's memory (outside this module).
//   - GpuAddr: a GPU virtual address inside the 2^40 GPU address space
//     managed by package memory.
//   - CacheAddr: a host pointer reinterpreted as an integer. Caches use
//     it as a stable key for guest-memory-backed resources; it is never
//     dereferenced by the caches themselves.
//
// The types are distinct named types so that the compiler rejects
// accidental mixing of address spaces.
package core

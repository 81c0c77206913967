/*
Package manager implements the worker's VM manager: the single
goroutine that owns every live VM handle and drives the backend on the
command bus's behalf.

# Architecture

	┌─────────────────────── WORKER PROCESS ───────────────────────┐
	│                                                                │
	│  ┌──────────────────────────────────────────────┐            │
	│  │              RPC Adapter (pkg/api)            │            │
	│  └──────────────────┬───────────────────────────┘            │
	│                     │ bus.Request                             │
	│  ┌──────────────────▼───────────────────────────┐            │
	│  │              Manager.Run (one goroutine)      │            │
	│  │  - dispatch(payload) switches on bus.Payload  │            │
	│  │  - handles map: types.VmID -> *handle          │            │
	│  │  - order slice: insertion-order list stability │            │
	│  └──────────────────┬───────────────────────────┘            │
	│                     │                                         │
	│  ┌──────────────────▼───────────────────────────┐            │
	│  │            vmm.VmmBackend (injected)          │            │
	│  │  cloudhypervisor | qemu | mock                │            │
	│  └────────────────────────────────────────────────┘           │
	└──────────────────────────────────────────────────────────────┘

# Commands

Create allocates a UUIDv7 identifier, content-hashes the spec with
go-digest for desiredHash, prepares the spec, spawns a subprocess,
builds the backend config, configures and boots the VM. Any failure
after Spawn rolls the subprocess back (kill + cleanup) before
returning; no handle ever enters the map for a failed Create.

Delete removes the handle from the map first, then runs shutdown,
delete, kill and cleanup best-effort, reporting only the first error
encountered. Every step always runs regardless of earlier failures.

List queries every live handle's current Info/Counters; a query
failure degrades that entry to its last-known state rather than
failing the whole request.

GetWorkerStatus reports the worker's identity, health, generation and
running VM count without touching the backend.

# Shutdown

Run returns when its context is cancelled. Before returning it tears
down every remaining handle the same way Delete does, then closes the
bus so every blocked or future caller resolves to bus.ErrManagerDown.
*/
package manager

// Package manager is the GPU residency coordinator. It owns the single
// accelerator: at most one model handle is loaded at any time, every
// acquire/unload/load sequence runs inside one global critical section, and
// an idle reaper unloads the resident model after a period of inactivity.
//
//   - manager.go: Manager type, construction, introspection.
//   - config.go: ManagerConfig and package defaults.
//   - acquire.go: Acquire/Lease, the critical section and queue admission.
//   - residency.go: eviction, loading and memory reclamation.
//   - reaper.go: periodic idle unload.
//   - ops.go: Preload, UnloadAll, Close.
//   - errors.go: error types and IsXxx helpers.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
//
// A lease holds the critical section for the whole inference, so the reaper
// and other acquirers never observe a model being used while they run.
package manager

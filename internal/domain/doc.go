// Package domain contains the core entities of the generation subsystem:
// generation tasks and their state machine, the configuration a task runs
// with, the source records and generated samples it works on, and the
// synchronization state of the derived vector index. It is independent of
// any storage, provider, or delivery mechanism.
package domain

/*
Package session implements per-run mutual exclusion and record persistence.

Every read-modify-write of a run record goes through a Manager, which holds an
in-process, reference-counted mutex per run ID and, when configured, a
distributed lock so that replicas sharing a store never resume the same run
twice.
*/
package session

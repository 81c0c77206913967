/*
Package reconciler implements the worker's state reporter: a
background loop that periodically asks the manager for its worker
status and VM list through the bus, and pushes the snapshot to a
Sink. The MVP Sink only logs; it stands in for a future push to an
external control plane collector.
*/
package reconciler

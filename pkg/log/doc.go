/*
Package log provides structured logging via zerolog: a global logger
configured once at startup with log.Init, plus small helpers for
attaching worker_id/vm_id/component fields to a child logger.
*/
package log

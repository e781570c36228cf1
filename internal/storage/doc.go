// Package storage persists job definitions and their start/warning/finish
// event logs.
//
// Each event category lives in its own table with its own id sequence, so
// the monitor tracks ingestion progress with one watermark per category
// rather than a single global event id.
package storage

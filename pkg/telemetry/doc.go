// Package telemetry wires OpenTelemetry exporters and meters for the REST bridge.
//
// It centralises trace provider setup and offers helpers that attach stanza, access
// and command metadata to spans and metrics so operators can correlate rejections with
// the requests that caused them.
package telemetry

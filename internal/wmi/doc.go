// Package wmi wires the schema registries, codec, dispatcher and session
// layers into one host endpoint that talks to WLAN firmware.
package wmi

// Package discovery finds hosts with nmap and records them as devices.
//
// A Scanner runs one nmap scan per target, several at once, and merges
// the live hosts. An Importer then writes them into a view on the
// caller's goroutine: one device per host name, with address, port and
// host key attributes, associated with the host network of its address.
//
// Importing the same scan result twice leaves the repository unchanged.
package discovery

// Package remotelogin resolves the address and port a node is reached on,
// internally from its IP or externally from the scheduler's remote login
// settings, and builds ssh commands with port forwards for it.
package remotelogin

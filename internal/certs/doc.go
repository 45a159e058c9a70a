// Package certs loads the serving certificate for the data listener,
// reloads it when the files change and generates self-signed certificates
// for development.
package certs

// Package creds loads the bearer credential used against the remote
// queue and inspects JWT expiry without verifying signatures. Login and
// token refresh flows live outside the agent; this package only reads
// what they leave behind.
package creds

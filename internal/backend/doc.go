// Package backend relays a client's raw request to one upstream server over
// a fresh TCP connection and collects the response until the upstream closes.
// Any transport failure is turned into a fixed 404 response, so callers always
// get well-formed bytes to send back.
package backend

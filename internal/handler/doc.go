// Package handler serves one proxied client connection: it reads the request
// head, routes it by Host, reserves a backend, relays the exchange and always
// gives the reservation back.
package handler

// Package httputil holds the JSON response and request-decoding helpers the
// API handlers share, so every endpoint speaks the same envelope.
package httputil

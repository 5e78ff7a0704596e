// Package httputil holds the JSON response helpers shared by the admin
// API handlers, so every endpoint emits the same envelope and error
// shape.
package httputil

// Package httpapi serves the administrative surface over HTTP.
//
// Routes:
//
//	GET    /healthz               liveness and repository reachability
//	GET    /metrics               Prometheus exposition
//	GET    /api/schedules         stored schedules with their next fire time
//	POST   /api/schedules         add a schedule
//	DELETE /api/schedules/{id}    delete a schedule
//	POST   /api/fetch             preview the feed for a credential
//	POST   /api/send              run the full pipeline for a credential now
//
// /api routes require "Authorization: Bearer <token>" when a token is set.
// Secrets are accepted on input and never returned.
package httpapi

// Package httpapi serves journeys over HTTP with a chi router.
//
//	POST /journeys/{tree}               start a journey
//	POST /journeys/{id}/continue        answer the current prompt
//	GET  /journeys/resume/{resumeID}    continue a suspended journey from its link
//	GET  /trees                         list loaded trees
//	GET  /metrics                       Prometheus scrape, when configured
//
// Every journey response has the same shape: the journey id, its status, the round
// nonce and the callbacks to answer. Cookies requested by nodes are written as
// Set-Cookie headers.
package httpapi

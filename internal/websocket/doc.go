// Package websocket streams run events to browser and CLI clients.
//
// The Hub fans every broadcast out to the registered clients. Each Client
// owns one gorilla/websocket connection with a read pump that only keeps
// the connection alive and a write pump that drains the client's buffer
// and sends pings. Handler upgrades HTTP requests on /ws.
//
// Messages are JSON objects:
//
//	{"type": "run:progress", "data": {...}, "subtype": "PGA", "action": "running", "timestamp": "..."}
package websocket

package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes, mirrored by clients.
const (
	CloseUnauthenticated websocket.StatusCode = 4001 // no or invalid credentials
	CloseForbidden       websocket.StatusCode = 4003 // banned, kicked, not a member, or lobby closed
	CloseLobbyNotFound   websocket.StatusCode = 4004 // target lobby does not exist
)

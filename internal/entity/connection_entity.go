package entity

import "time"

type Connection struct {
	Id          string    `json:"id"`
	UserId      string    `json:"userId,omitempty"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
	ServerId    string    `json:"serverId,omitempty"`
	// Local is false for connections held by another server node.
	Local bool `json:"local"`
}

package entity

type Message struct {
	Id           string `bson:"_id" json:"id"`
	ConnectionId string `bson:"connectionId" json:"connectionId"`
	UserId       string `bson:"userId,omitempty" json:"userId,omitempty"`
	Direction    string `bson:"direction" json:"direction"`
	Binary       bool   `bson:"binary" json:"binary"`
	Message      string `bson:"message" json:"message"`
	Timestamp    int64  `bson:"timestamp" json:"timestamp"`
}

type MessageIndexFilter struct {
	ConnectionId string `bson:"connectionId"`
	UserId       string `bson:"userId"`
	Direction    string `bson:"direction"`
	Limit        int    `bson:"limit"`
	Offset       int    `bson:"offset"`
}

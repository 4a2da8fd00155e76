package entity

type SendRequest struct {
	Message string `json:"message"`
	// Raw sends the message verbatim instead of wrapping it in a packet.
	Raw bool `json:"raw"`
}

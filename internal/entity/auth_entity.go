package entity

type TokenClaims struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
}

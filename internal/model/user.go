package model

// UserPublic is the participant view exposed by the API: no credentials,
// no contact details.
type UserPublic struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsOnline  bool   `json:"is_online,omitempty"`
}

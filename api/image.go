package api

import "time"

// ImageCard is one rendered gallery entry: the image record joined with
// its owner's profile info.
type ImageCard struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Visibility  string    `json:"visibility"`
	Src         string    `json:"src,omitempty"`
	UploadDate  time.Time `json:"upload_date"`
	Owner       string    `json:"owner"`
	OwnerName   string    `json:"owner_name,omitempty"`
	OwnerAvatar string    `json:"owner_avatar,omitempty"`
}

// ViewEvent is one live gallery change streamed to clients.
type ViewEvent struct {
	Type       string     `json:"type"` // added, updated, removed
	Owner      string     `json:"owner"`
	Visibility string     `json:"visibility"`
	Filename   string     `json:"filename"`
	Card       *ImageCard `json:"card,omitempty"`
}

// LoginRequest carries the token used to establish a session.
type LoginRequest struct {
	Token string `json:"token"`
}

// UserInfo is the signed-in user as reported to clients.
type UserInfo struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

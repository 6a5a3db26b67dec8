package model

import "time"

type UserID string // opaque user id e.g. 3GFQNuSg3dPqDD1emxv5bqX42oxq

type CreateUserParams struct {
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
}

type User struct {
	ID        UserID    `db:"ID" json:"id"`
	CreatedAt time.Time `db:"CreatedAt" json:"createdAt"`
	FullName  string    `db:"FullName" json:"fullName"`
	Email     string    `db:"Email" json:"email"`
	AvatarURL string    `db:"AvatarURL" json:"avatarUrl"`
}

// Profile is the public part of a User shown next to their messages.
type Profile struct {
	FullName  string `json:"fullName"`
	AvatarURL string `json:"avatarUrl"`
}

func (u *User) Profile() *Profile {
	return &Profile{FullName: u.FullName, AvatarURL: u.AvatarURL}
}

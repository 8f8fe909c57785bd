package models

import "time"

type User struct {
	ID        int64     `json:"id"`
	Username  *string   `json:"username,omitempty"`
	FirstName string    `json:"first_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Submission records that a user sent a particular animation during the
// submission phase. The (UserID, AnimationID) pair is unique.
type Submission struct {
	ID          int       `json:"id"`
	UserID      int64     `json:"user_id"`
	AnimationID string    `json:"animation_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// AdminCredentials is the login payload for the admin API.
type AdminCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

package models

import (
	"time"
)

// User represents the signed-in account as returned by the auth endpoints
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// ChatSession is a conversation thread summary
type ChatSession struct {
	ID           int64  `json:"id"`
	SessionName  string `json:"session_name"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

// Message represents a chat message shown in the conversation
type Message struct {
	ID             string
	Text           string
	IsUser         bool
	Timestamp      time.Time
	Image          string // local preview reference, empty when no image
	IsPrescription bool
}

// MessageRecord is a stored message as returned by the backend
type MessageRecord struct {
	ID             int64  `json:"id"`
	Content        string `json:"content"`
	IsUser         bool   `json:"is_user"`
	CreatedAt      string `json:"created_at"`
	IsPrescription bool   `json:"is_prescription"`
}

// Image is an attachment selected by the user
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Preview returns the local reference used to display the image
func (i *Image) Preview() string {
	if i == nil {
		return ""
	}
	return "file://" + i.Filename
}

// AuthResponse is returned by login and register
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// ChatResponse is returned by the chat endpoint
type ChatResponse struct {
	Response            string `json:"response"`
	IsPrescriptionQuery bool   `json:"is_prescription_query"`
	SessionID           int64  `json:"session_id"`
}

// PrescriptionResponse is returned by the prescription analysis endpoint
type PrescriptionResponse struct {
	Response  string `json:"response"`
	SessionID int64  `json:"session_id"`
}

// DarkModePreference is the tri-state display preference
type DarkModePreference string

const (
	DarkModeSystem DarkModePreference = "system"
	DarkModeLight  DarkModePreference = "light"
	DarkModeDark   DarkModePreference = "dark"
)

// Language is one of the supported interface languages
type Language struct {
	Code       string
	Name       string
	NativeName string
}

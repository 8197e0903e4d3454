package entities

import "time"

// Device represents a paired phone running the thin client
type Device struct {
	ID           string    `json:"id" bson:"_id"`
	SerialNumber string    `json:"serial_number" bson:"serial_number"`
	SecretKey    string    `json:"-" bson:"secret_key"`
	Model        string    `json:"model" bson:"model"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

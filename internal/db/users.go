package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

type User struct {
	ID        int64
	Name      string
	Email     string
	APIKey    string
	CreatedAt string
}

// Generate a random API key
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Insert a new user
func CreateUser(name, email string) (*User, error) {
	apiKey, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	res, err := SQLDB.Exec("INSERT INTO users (name, email, api_key) VALUES (?, ?, ?)", name, email, apiKey)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Name: name, Email: email, APIKey: apiKey}, nil
}

// GetUserByAPIKey fetches a user by its API key
func GetUserByAPIKey(apiKey string) (*User, error) {
	row := SQLDB.QueryRow("SELECT id, name, email, api_key, created_at FROM users WHERE api_key = ?", apiKey)
	u := &User{}
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.APIKey, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var SQLDB *sql.DB

func InitSQLite(path string) {
	var err error
	SQLDB, err = sql.Open("sqlite3", path)
	if err != nil {
		logrus.Fatalf("Failed to open SQLite DB: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		api_key TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	`
	if _, err := SQLDB.Exec(schema); err != nil {
		logrus.Fatalf("Failed to create schema: %v", err)
	}

	logrus.Info("SQLite initialized, users and files tables ready")
}

package db

// FileRecord is one completed upload in the catalog.
type FileRecord struct {
	ID        string
	UserID    string
	Name      string
	Path      string
	Size      int64
	CreatedAt string
}

// CreateFile inserts a catalog row for a finalized upload.
func CreateFile(rec *FileRecord) error {
	_, err := SQLDB.Exec(
		"INSERT INTO files (id, user_id, name, path, size) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.UserID, rec.Name, rec.Path, rec.Size,
	)
	return err
}

// ListFilesByUser returns the catalog rows owned by userID, newest first.
func ListFilesByUser(userID string) ([]FileRecord, error) {
	rows, err := SQLDB.Query(
		"SELECT id, user_id, name, path, size, created_at FROM files WHERE user_id = ? ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var rec FileRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Path, &rec.Size, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

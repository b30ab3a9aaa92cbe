package models

// Category is a per-user label with a free-text keyword glossary. The
// keyword list is stored encrypted in the database; repositories present it
// to the application as a plain comma-joined string.
type Category struct {
	ID     int64
	UserID int64

	// Name is unique per user.
	Name string

	// Keywords is the plaintext comma-joined keyword list. Seed terms for
	// auto-categorization and a user-editable glossary.
	Keywords string
}

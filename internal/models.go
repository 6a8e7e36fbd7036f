package internal

// Message is a row as it is written by a producer. created_at and visible_at
// are left to the column defaults so that only the store clock is used.
type Message struct {
	ID      string `db:"id"`
	Payload []byte `db:"payload"`
}

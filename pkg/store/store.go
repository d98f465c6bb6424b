// Package store provides durable identity and message storage behind a
// narrow synchronous interface. The server core assumes every call returns
// promptly; backends are expected to be local.
package store

import "errors"

var (
	// ErrIdentityNotFound indicates the username does not exist.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityExists indicates the username is already registered.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotSender indicates the requester did not send the message and
	// may not delete it.
	ErrNotSender = errors.New("cannot delete a message sent by someone else")
)

// Message is one stored private message.
type Message struct {
	ID        int64
	Sender    string
	Recipient string
	Body      string
	Timestamp int64 // unix milliseconds
	Delivered bool
}

// Store is the persistence collaborator consumed by the dispatcher. All
// methods are synchronous; failures other than the sentinel errors above
// surface as backend errors the dispatcher maps to a store-failure
// response.
type Store interface {
	IdentityExists(username string) (bool, error)
	CreateIdentity(username, credentialHash string) error
	CredentialHash(username string) (string, error)
	ListIdentities() ([]string, error)
	// DeleteIdentity removes the identity and every message it sent or
	// received, so former correspondents can no longer view them.
	DeleteIdentity(username string) error

	InsertMessage(sender, recipient, body string, timestamp int64) (int64, error)
	// FetchMessages returns the full conversation between two identities
	// ordered by timestamp, then id.
	FetchMessages(userA, userB string) ([]Message, error)
	FetchUndelivered(username string, limit int) ([]Message, error)
	CountUndelivered(username string) (int64, error)
	MarkDelivered(messageID int64) error
	MarkAllDelivered(recipient string) error
	// DeleteMessage removes a message if requester is its sender;
	// otherwise it returns ErrNotSender and leaves the message intact.
	DeleteMessage(messageID int64, requester string) error

	Close() error
}

// Open creates a Store for the configured backend: "sqlite" (path is the
// database file) or "memory".
func Open(backend, path string) (Store, error) {
	switch backend {
	case "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store backend " + backend)
	}
}

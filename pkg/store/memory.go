package store

import (
	"sort"
	"sync"
)

// Memory is an in-process Store. It backs tests and ephemeral servers that
// do not need chat history to survive a restart.
type Memory struct {
	mu        sync.RWMutex
	users     map[string]string // username -> credential hash
	messages  map[int64]*Message
	nextMsgID int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[string]string),
		messages:  make(map[int64]*Message),
		nextMsgID: 1,
	}
}

func (m *Memory) IdentityExists(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[username]
	return ok, nil
}

func (m *Memory) CreateIdentity(username, credentialHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return ErrIdentityExists
	}
	m.users[username] = credentialHash
	return nil
}

func (m *Memory) CredentialHash(username string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hash, ok := m.users[username]
	if !ok {
		return "", ErrIdentityNotFound
	}
	return hash, nil
}

func (m *Memory) ListIdentities() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.users))
	for name := range m.users {
		users = append(users, name)
	}
	sort.Strings(users)
	return users, nil
}

func (m *Memory) DeleteIdentity(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; !ok {
		return ErrIdentityNotFound
	}
	delete(m.users, username)
	for id, msg := range m.messages {
		if msg.Sender == username || msg.Recipient == username {
			delete(m.messages, id)
		}
	}
	return nil
}

func (m *Memory) InsertMessage(sender, recipient, body string, timestamp int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextMsgID
	m.nextMsgID++
	m.messages[id] = &Message{
		ID:        id,
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Timestamp: timestamp,
	}
	return id, nil
}

func (m *Memory) FetchMessages(userA, userB string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var messages []Message
	for _, msg := range m.messages {
		between := (msg.Sender == userA && msg.Recipient == userB) ||
			(msg.Sender == userB && msg.Recipient == userA)
		if between {
			messages = append(messages, *msg)
		}
	}
	sortMessages(messages)
	return messages, nil
}

func (m *Memory) FetchUndelivered(username string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var messages []Message
	for _, msg := range m.messages {
		if msg.Recipient == username && !msg.Delivered {
			messages = append(messages, *msg)
		}
	}
	sortMessages(messages)
	if limit >= 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (m *Memory) CountUndelivered(username string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, msg := range m.messages {
		if msg.Recipient == username && !msg.Delivered {
			count++
		}
	}
	return count, nil
}

func (m *Memory) MarkDelivered(messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[messageID]; ok {
		msg.Delivered = true
	}
	return nil
}

func (m *Memory) MarkAllDelivered(recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.Recipient == recipient {
			msg.Delivered = true
		}
	}
	return nil
}

func (m *Memory) DeleteMessage(messageID int64, requester string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if msg.Sender != requester {
		return ErrNotSender
	}
	delete(m.messages, messageID)
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }

func sortMessages(messages []Message) {
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Timestamp != messages[j].Timestamp {
			return messages[i].Timestamp < messages[j].Timestamp
		}
		return messages[i].ID < messages[j].ID
	})
}

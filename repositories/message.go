//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"groupchat/domain"
	"groupchat/errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	messagePrefix  = "msg:"
	sequencePrefix = "seq:"

	// sequenceBandwidth is how many sequence numbers Badger leases at once.
	// Unused numbers of a lease are lost on restart, which only leaves gaps.
	sequenceBandwidth = 100
)

type IMessageRepository interface {
	Append(room domain.RoomID, message domain.Message) (domain.Message, error)
	History(room domain.RoomID) ([]domain.Message, error)
}

// roomLog serializes appends of one room so sequence order and commit order
// are the same.
type roomLog struct {
	mu  sync.Mutex
	seq *badger.Sequence
}

type MessageRepository struct {
	db    *badger.DB
	log   *slog.Logger
	now   func() time.Time
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomLog
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{
		db:    db,
		log:   log,
		now:   time.Now,
		rooms: make(map[domain.RoomID]*roomLog),
	}
}

type diskMessage struct {
	ID       string `json:"id"`
	Room     string `json:"room"`
	Seq      uint64 `json:"seq"`
	Username string `json:"username"`
	Body     string `json:"body"`
	Image    string `json:"image,omitempty"`
	Time     string `json:"time"`
}

// Append persists a message at the end of the room log.
// The key is formatted as "msg:{hex(room)}:{seq_padded}" so that:
//  1. A prefix scan on one room never hits another room, whatever the room id contains.
//  2. The 20-digit zero padding keeps lexicographical order equal to append order.
func (m *MessageRepository) Append(room domain.RoomID, message domain.Message) (domain.Message, error) {
	message.Room = room
	if err := message.Validate(); err != nil {
		return domain.Message{}, err
	}

	rl, err := m.roomLog(room)
	if err != nil {
		return domain.Message{}, err
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	seq, err := rl.seq.Next()
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: next sequence: %v", errors.ErrStoreUnavailable, err)
	}
	if message.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Message{}, fmt.Errorf("%w: message id: %v", errors.ErrStoreUnavailable, err)
		}
		message.ID = id.String()
	}
	if message.Time == "" {
		message.Time = domain.FormatTime(m.now())
	}

	value, err := json.Marshal(fromMessage(message, seq))
	if err != nil {
		return domain.Message{}, err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(room, seq), value)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return message, nil
}

// History returns every message of the room in append order.
// An unknown room yields an empty slice.
func (m *MessageRepository) History(room domain.RoomID) ([]domain.Message, error) {
	messages := make([]domain.Message, 0)
	prefix := roomPrefix(room)
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var dm diskMessage
				if err := json.Unmarshal(value, &dm); err != nil {
					return err
				}
				messages = append(messages, toMessage(dm))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return messages, nil
}

// Rooms lists the rooms having at least one stored message, in key order.
func (m *MessageRepository) Rooms() ([]domain.RoomID, error) {
	var rooms []domain.RoomID
	prefix := []byte(messagePrefix)
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			end := bytes.IndexByte(rest, ':')
			if end < 0 {
				continue
			}
			raw, err := hex.DecodeString(string(rest[:end]))
			if err != nil {
				m.log.Warn("Skipping malformed message key", "key", string(it.Item().Key()))
				continue
			}
			rooms = append(rooms, domain.RoomID(raw))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, err)
	}
	return lo.Uniq(rooms), nil
}

// Close releases the leased sequences. The database itself is owned by the caller.
func (m *MessageRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for room, rl := range m.rooms {
		if err := rl.seq.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.rooms, room)
	}
	return firstErr
}

func (m *MessageRepository) roomLog(room domain.RoomID) (*roomLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rl, ok := m.rooms[room]; ok {
		return rl, nil
	}
	seq, err := m.db.GetSequence(sequenceKey(room), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("%w: sequence for room %q: %v", errors.ErrStoreUnavailable, room, err)
	}
	rl := &roomLog{seq: seq}
	m.rooms[room] = rl
	return rl, nil
}

func roomPrefix(room domain.RoomID) []byte {
	return []byte(messagePrefix + hex.EncodeToString([]byte(room)) + ":")
}

func messageKey(room domain.RoomID, seq uint64) []byte {
	return append(roomPrefix(room), []byte(fmt.Sprintf("%020d", seq))...)
}

func sequenceKey(room domain.RoomID) []byte {
	return []byte(sequencePrefix + hex.EncodeToString([]byte(room)))
}

func fromMessage(message domain.Message, seq uint64) diskMessage {
	return diskMessage{
		ID:       message.ID,
		Room:     string(message.Room),
		Seq:      seq,
		Username: message.Username,
		Body:     message.Body,
		Image:    message.Image,
		Time:     message.Time,
	}
}

func toMessage(dm diskMessage) domain.Message {
	return domain.Message{
		ID:       dm.ID,
		Room:     domain.RoomID(dm.Room),
		Username: dm.Username,
		Body:     dm.Body,
		Image:    dm.Image,
		Time:     dm.Time,
	}
}

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionStore struct {
	DB *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{DB: db}
}

func (s *SessionStore) CreateSession(connectionID string, userData any, openedAt time.Time) error {
	encoded, err := EncodeUserData(userData)
	if err != nil {
		return err
	}

	session := Session{
		ConnectionID: connectionID,
		UserData:     encoded,
		OpenedAt:     openedAt.UnixMilli(),
	}
	return s.DB.Create(&session).Error
}

// CloseSession stamps the end of a session. Already closed sessions keep
// their first end state.
func (s *SessionStore) CloseSession(connectionID string, state string, closedAt time.Time) error {
	res := s.DB.Model(&Session{}).
		Where("connection_id = ? AND closed_at = 0", connectionID).
		Updates(map[string]any{"closed_at": closedAt.UnixMilli(), "end_state": state})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) GetSession(connectionID string) (*Session, error) {
	session := &Session{}
	err := s.DB.First(session, "connection_id = ?", connectionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *SessionStore) RecentSessions(limit int) ([]Session, error) {
	sessions := []Session{}
	q := s.DB.Order("opened_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *SessionStore) CountOpen() (int64, error) {
	var n int64
	err := s.DB.Model(&Session{}).Where("closed_at = 0").Count(&n).Error
	return n, err
}

// EncodeUserData renders user data as canonical JSON. Values structpb
// cannot represent directly are normalized through their JSON form first.
func EncodeUserData(v any) (string, error) {
	if v == nil {
		return "", nil
	}

	value, err := structpb.NewValue(v)
	if err != nil {
		raw, jerr := json.Marshal(v)
		if jerr != nil {
			return "", fmt.Errorf("encoding user data: %w", jerr)
		}
		var generic any
		if jerr := json.Unmarshal(raw, &generic); jerr != nil {
			return "", fmt.Errorf("encoding user data: %w", jerr)
		}
		if value, err = structpb.NewValue(generic); err != nil {
			return "", fmt.Errorf("encoding user data: %w", err)
		}
	}

	out, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encoding user data: %w", err)
	}
	return string(out), nil
}

// DecodeUserData reverses EncodeUserData.
func DecodeUserData(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	value := &structpb.Value{}
	if err := protojson.Unmarshal([]byte(s), value); err != nil {
		return nil, fmt.Errorf("decoding user data: %w", err)
	}
	return value.AsInterface(), nil
}

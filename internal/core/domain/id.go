package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type UserID uuid.UUID
type CallID uuid.UUID

func NewUserID() UserID {
	return UserID(uuid.New())
}

func NewCallID() CallID {
	return CallID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return UserID(id), nil
}

func ParseCallID(s string) (CallID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CallID{}, fmt.Errorf("invalid call id %q: %w", s, err)
	}
	return CallID(id), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

func (id UserID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id CallID) String() string {
	return uuid.UUID(id).String()
}

func (id CallID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

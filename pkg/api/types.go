package api

import (
	"encoding/json"
	"time"
)

type Health struct {
	OK   bool   `json:"ok" yaml:"ok"`
	Body string `json:"body,omitempty" yaml:"body,omitempty"`
}

type Group struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	CreatedBy string     `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

func (g *Group) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string     `json:"id"`
		Name        string     `json:"name"`
		CreatedBy   string     `json:"createdBy"`
		CreatedBySn string     `json:"created_by"`
		CreatedAt   *time.Time `json:"createdAt"`
		CreatedAtSn *time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*g = Group{
		ID:        raw.ID,
		Name:      raw.Name,
		CreatedBy: firstString(raw.CreatedBy, raw.CreatedBySn),
		CreatedAt: firstTime(raw.CreatedAt, raw.CreatedAtSn),
	}
	return nil
}

// Member is a user in a group. The backend reports the user's creation time
// when it has no membership time.
type Member struct {
	ID       string     `json:"id" yaml:"id"`
	Name     string     `json:"name,omitempty" yaml:"name,omitempty"`
	Email    string     `json:"email,omitempty" yaml:"email,omitempty"`
	JoinedAt *time.Time `json:"joinedAt,omitempty" yaml:"joinedAt,omitempty"`
}

func (m *Member) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string     `json:"id"`
		Name        string     `json:"name"`
		Email       string     `json:"email"`
		JoinedAt    *time.Time `json:"joinedAt"`
		JoinedAtSn  *time.Time `json:"joined_at"`
		CreatedAtSn *time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Member{
		ID:       raw.ID,
		Name:     raw.Name,
		Email:    raw.Email,
		JoinedAt: firstTime(raw.JoinedAt, raw.JoinedAtSn, raw.CreatedAtSn),
	}
	return nil
}

type Notification struct {
	ID        string     `json:"id" yaml:"id"`
	GroupID   string     `json:"groupId,omitempty" yaml:"groupId,omitempty"`
	Message   string     `json:"message" yaml:"message"`
	CreatedAt *time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string     `json:"id"`
		GroupID     string     `json:"groupId"`
		GroupIDSn   string     `json:"group_id"`
		Message     string     `json:"message"`
		CreatedAt   *time.Time `json:"createdAt"`
		CreatedAtSn *time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*n = Notification{
		ID:        raw.ID,
		GroupID:   firstString(raw.GroupID, raw.GroupIDSn),
		Message:   raw.Message,
		CreatedAt: firstTime(raw.CreatedAt, raw.CreatedAtSn),
	}
	return nil
}

type JoinResult struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// LocationUpdate is posted as {"countryCode":"US","status":"arrived"}.
type LocationUpdate struct {
	CountryCode string `json:"countryCode"`
	Status      string `json:"status"`
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstTime(values ...*time.Time) *time.Time {
	for _, v := range values {
		if v != nil && !v.IsZero() {
			return v
		}
	}
	return nil
}

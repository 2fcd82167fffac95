// Package profile holds connection profiles: named routing configurations plus the
// single "current" selection handed to the backend on restart.
package profile

import (
	"time"

	"github.com/google/uuid"

	"nlink_desk/internal/rules"
)

// DefaultName is the name given to the starter profile.
const DefaultName = "Local profile"

// OriginKind tells where a profile's content came from.
type OriginKind string

const (
	OriginLocal  OriginKind = "local"
	OriginRemote OriginKind = "remote"
)

// Origin records the source of a profile. URL is set only for remote profiles.
type Origin struct {
	Kind OriginKind `json:"kind"`
	URL  string     `json:"url,omitempty"`
}

// Local reports whether the profile was created on this machine.
func (o Origin) Local() bool { return o.Kind != OriginRemote }

// Profile is a named routing configuration. Content is kept as text and is only parsed
// by the backend when the profile is applied.
type Profile struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Content       string    `json:"content"`
	Origin        Origin    `json:"origin"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// New creates a profile with a fresh id.
func New(name, content string, origin Origin, now time.Time) Profile {
	return Profile{
		ID:            uuid.NewString(),
		Name:          name,
		Content:       content,
		Origin:        origin,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// NewLocalDefault returns the starter profile built from rules.DefaultConfig.
func NewLocalDefault(now time.Time) Profile {
	content, err := rules.DefaultConfig().EncodeJSON()
	if err != nil {
		// DefaultConfig is a static value; failing to encode it is a programming error.
		panic(err)
	}
	return New(DefaultName, string(content), Origin{Kind: OriginLocal}, now)
}

// ReplaceContent swaps the content and bumps LastUpdatedAt. The id never changes.
func (p *Profile) ReplaceContent(content string, now time.Time) {
	p.Content = content
	p.LastUpdatedAt = now
}

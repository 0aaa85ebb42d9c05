package messaging

import (
	"fmt"
	"strings"
)

// ContentTypeID is authority/type:major.minor.
type ContentTypeID struct {
	Authority    string
	TypeID       string
	VersionMajor int
	VersionMinor int
}

var (
	ContentTypeText     = ContentTypeID{Authority: "xmtp.org", TypeID: "text", VersionMajor: 1, VersionMinor: 0}
	ContentTypeReaction = ContentTypeID{Authority: "phenix.chat", TypeID: "reaction", VersionMajor: 1, VersionMinor: 0}
)

func (c ContentTypeID) String() string {
	return fmt.Sprintf("%s/%s:%d.%d", c.Authority, c.TypeID, c.VersionMajor, c.VersionMinor)
}

// SameType ignores the minor version.
func (c ContentTypeID) SameType(other ContentTypeID) bool {
	return c.Authority == other.Authority && c.TypeID == other.TypeID && c.VersionMajor == other.VersionMajor
}

func ParseContentTypeID(raw string) (ContentTypeID, error) {
	authority, rest, ok := strings.Cut(raw, "/")
	if !ok || authority == "" {
		return ContentTypeID{}, fmt.Errorf("invalid content type %q", raw)
	}
	typeID, version, ok := strings.Cut(rest, ":")
	if !ok || typeID == "" {
		return ContentTypeID{}, fmt.Errorf("invalid content type %q", raw)
	}
	var major, minor int
	if _, err := fmt.Sscanf(version, "%d.%d", &major, &minor); err != nil {
		return ContentTypeID{}, fmt.Errorf("invalid content type version %q: %w", raw, err)
	}
	return ContentTypeID{Authority: authority, TypeID: typeID, VersionMajor: major, VersionMinor: minor}, nil
}

// Content is one of Text, Reaction or Unknown.
type Content interface {
	isContent()
}

type Text struct {
	Body string
}

type Reaction struct {
	RefID string `json:"refId"`
	Emoji string `json:"emoji"`
}

// Unknown is content no registered codec could decode.
type Unknown struct {
	ContentType ContentTypeID
	Fallback    string
}

func (Text) isContent()     {}
func (Reaction) isContent() {}
func (Unknown) isContent()  {}

// EncodedContent is the wire form of a message payload.
type EncodedContent struct {
	Type       ContentTypeID
	Parameters map[string]string
	Content    []byte
	Fallback   string
}

// PreviewText renders content for conversation previews. ok is false for
// anything that is not plain text.
func PreviewText(c Content) (string, bool) {
	if t, isText := c.(Text); isText {
		return t.Body, true
	}
	return "", false
}

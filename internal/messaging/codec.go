package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrNoCodec = errors.New("no codec for content")

type Codec interface {
	ContentType() ContentTypeID
	Encode(Content) (EncodedContent, error)
	Decode(EncodedContent) (Content, error)
}

// Registry resolves codecs by content type. Text and reaction codecs are
// always present.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

func NewRegistry(extra ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(TextCodec{})
	r.Register(ReactionCodec{})
	for _, c := range extra {
		r.Register(c)
	}
	return r
}

func registryKey(id ContentTypeID) string {
	return fmt.Sprintf("%s/%s:%d", id.Authority, id.TypeID, id.VersionMajor)
}

func (r *Registry) Register(c Codec) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.codecs[registryKey(c.ContentType())] = c
	r.mu.Unlock()
}

func (r *Registry) lookup(id ContentTypeID) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[registryKey(id)]
	return c, ok
}

func (r *Registry) Encode(c Content) (EncodedContent, error) {
	var id ContentTypeID
	switch v := c.(type) {
	case Text:
		id = ContentTypeText
	case Reaction:
		id = ContentTypeReaction
	case Unknown:
		return EncodedContent{}, fmt.Errorf("%w: %s", ErrNoCodec, v.ContentType)
	default:
		return EncodedContent{}, fmt.Errorf("%w: %T", ErrNoCodec, c)
	}
	codec, ok := r.lookup(id)
	if !ok {
		return EncodedContent{}, fmt.Errorf("%w: %s", ErrNoCodec, id)
	}
	return codec.Encode(c)
}

// Decode never fails: unregistered or undecodable payloads become Unknown.
func (r *Registry) Decode(enc EncodedContent) Content {
	codec, ok := r.lookup(enc.Type)
	if !ok {
		return Unknown{ContentType: enc.Type, Fallback: enc.Fallback}
	}
	c, err := codec.Decode(enc)
	if err != nil {
		return Unknown{ContentType: enc.Type, Fallback: enc.Fallback}
	}
	return c
}

type TextCodec struct{}

func (TextCodec) ContentType() ContentTypeID { return ContentTypeText }

func (TextCodec) Encode(c Content) (EncodedContent, error) {
	t, ok := c.(Text)
	if !ok {
		return EncodedContent{}, fmt.Errorf("text codec cannot encode %T", c)
	}
	return EncodedContent{
		Type:       ContentTypeText,
		Parameters: map[string]string{"encoding": "UTF-8"},
		Content:    []byte(t.Body),
	}, nil
}

func (TextCodec) Decode(enc EncodedContent) (Content, error) {
	if enc.Parameters != nil {
		if encoding, ok := enc.Parameters["encoding"]; ok && encoding != "UTF-8" {
			return nil, fmt.Errorf("unsupported text encoding %q", encoding)
		}
	}
	return Text{Body: string(enc.Content)}, nil
}

// ReactionCodec carries a reaction both as a JSON body and as parameters.
type ReactionCodec struct{}

func (ReactionCodec) ContentType() ContentTypeID { return ContentTypeReaction }

func (ReactionCodec) Encode(c Content) (EncodedContent, error) {
	r, ok := c.(Reaction)
	if !ok {
		return EncodedContent{}, fmt.Errorf("reaction codec cannot encode %T", c)
	}
	body, err := json.Marshal(r)
	if err != nil {
		return EncodedContent{}, err
	}
	return EncodedContent{
		Type:       ContentTypeReaction,
		Parameters: map[string]string{"refId": r.RefID, "emoji": r.Emoji},
		Content:    body,
		Fallback:   "reacted " + r.Emoji,
	}, nil
}

// Decode prefers the JSON body and falls back to parameters.
func (ReactionCodec) Decode(enc EncodedContent) (Content, error) {
	var parsed struct {
		RefID *string `json:"refId"`
		Emoji *string `json:"emoji"`
	}
	if err := json.Unmarshal(enc.Content, &parsed); err == nil && parsed.RefID != nil && parsed.Emoji != nil {
		return Reaction{RefID: *parsed.RefID, Emoji: *parsed.Emoji}, nil
	}
	return Reaction{RefID: enc.Parameters["refId"], Emoji: enc.Parameters["emoji"]}, nil
}

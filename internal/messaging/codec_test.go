package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionCodecEncodesBodyAndParameters(t *testing.T) {
	enc, err := ReactionCodec{}.Encode(Reaction{RefID: "m1", Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, ContentTypeReaction, enc.Type)
	assert.JSONEq(t, `{"refId":"m1","emoji":"👍"}`, string(enc.Content))
	assert.Equal(t, "m1", enc.Parameters["refId"])
	assert.Equal(t, "reacted 👍", enc.Fallback)
}

func TestReactionCodecFallsBackToParameters(t *testing.T) {
	got, err := ReactionCodec{}.Decode(EncodedContent{
		Type:       ContentTypeReaction,
		Parameters: map[string]string{"refId": "m2", "emoji": "🔥"},
		Content:    []byte("not json"),
	})
	require.NoError(t, err)
	assert.Equal(t, Reaction{RefID: "m2", Emoji: "🔥"}, got)

	got, err = ReactionCodec{}.Decode(EncodedContent{Type: ContentTypeReaction, Content: []byte(`{"refId":"m3"}`)})
	require.NoError(t, err)
	assert.Equal(t, Reaction{}, got)
}

func TestRegistryDecodesUnknownTypes(t *testing.T) {
	r := NewRegistry()
	custom := ContentTypeID{Authority: "example.org", TypeID: "poll", VersionMajor: 2}
	got := r.Decode(EncodedContent{Type: custom, Content: []byte{1}, Fallback: "a poll"})
	assert.Equal(t, Unknown{ContentType: custom, Fallback: "a poll"}, got)

	_, err := r.Encode(Unknown{ContentType: custom})
	assert.ErrorIs(t, err, ErrNoCodec)
}

func TestRegistryRoundtripsText(t *testing.T) {
	r := NewRegistry()
	enc, err := r.Encode(Text{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, Text{Body: "hi"}, r.Decode(enc))
}

func TestRegistryMatchesMinorVersions(t *testing.T) {
	r := NewRegistry()
	enc := EncodedContent{Type: ContentTypeText, Content: []byte("later")}
	enc.Type.VersionMinor = 3
	assert.Equal(t, Text{Body: "later"}, r.Decode(enc))
}

func TestParseContentTypeID(t *testing.T) {
	id, err := ParseContentTypeID("phenix.chat/reaction:1.0")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeReaction, id)
	assert.Equal(t, "phenix.chat/reaction:1.0", id.String())

	for _, raw := range []string{"", "noslash", "a/b", "a/b:x"} {
		_, err := ParseContentTypeID(raw)
		assert.Error(t, err, raw)
	}
}

func TestPreviewText(t *testing.T) {
	body, ok := PreviewText(Text{Body: "hey"})
	assert.True(t, ok)
	assert.Equal(t, "hey", body)
	_, ok = PreviewText(Reaction{RefID: "x", Emoji: "y"})
	assert.False(t, ok)
}

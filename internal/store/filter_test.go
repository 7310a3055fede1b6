package store

import (
	"encoding/json"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	meta := Metadata{KeyConversationID: int64(5), KeyType: TypeUserMessage}

	assert.True(t, (*Filter)(nil).Matches(meta))
	assert.True(t, Where(Eq(KeyConversationID, "5")).Matches(meta))
	assert.True(t, Where(In(KeyType, []string{TypeUserMessage, TypeAssistantMessage})).Matches(meta))
	assert.False(t, (&Filter{}).Not(Eq(KeyConversationID, 5)).Matches(meta))
	assert.True(t, (&Filter{}).Not(Eq("missing", 1)).Matches(meta))
	assert.False(t, Where(Eq("missing", 1)).Matches(meta))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "5", formatValue(5))
	assert.Equal(t, "5", formatValue(int64(5)))
	assert.Equal(t, "5", formatValue(float64(5)))
	assert.Equal(t, "2.5", formatValue(2.5))
	assert.Equal(t, "x", formatValue("x"))
	assert.Equal(t, "7", formatValue(json.Number("7")))
}

func TestDecodeMetadataNormalizesNumbers(t *testing.T) {
	m, err := decodeMetadata(`{"doc_id":3,"score":0.5,"name":"a"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), m["doc_id"])
	assert.Equal(t, 0.5, m["score"])
	assert.Equal(t, "a", m["name"])
}

func TestQdrantFilterTranslation(t *testing.T) {
	assert.Nil(t, qdrantFilter(nil))
	assert.Nil(t, qdrantFilter(&Filter{}))

	f := qdrantFilter(Where(In(KeyDocID, []int64{1, 2})).Not(Eq(KeyType, TypeUserMessage)))
	require.Len(t, f.GetMust(), 1)
	require.Len(t, f.GetMustNot(), 1)

	// numeric values match both keyword and integer payloads
	must := f.GetMust()[0].GetFilter()
	require.Len(t, must.GetShould(), 2)
	assert.Equal(t, []string{"1", "2"}, must.GetShould()[0].GetField().GetMatch().GetKeywords().GetStrings())
	assert.Equal(t, []int64{1, 2}, must.GetShould()[1].GetField().GetMatch().GetIntegers().GetIntegers())

	mustNot := f.GetMustNot()[0].GetFilter()
	assert.Len(t, mustNot.GetShould(), 1)
}

func TestSplitPayloadStripsReservedKeys(t *testing.T) {
	payload := qdrant.NewValueMap(map[string]any{
		payloadRecordID: "doc_1_chunk_0",
		payloadDocument: "hello",
		payloadSeq:      int64(9),
		KeyDocID:        int64(1),
		KeyType:         "x",
	})

	id, text, meta, seq := splitPayload(payload)
	assert.Equal(t, "doc_1_chunk_0", id)
	assert.Equal(t, "hello", text)
	assert.Equal(t, int64(9), seq)
	assert.Equal(t, Metadata{KeyDocID: int64(1), KeyType: "x"}, meta)
}

func TestPointIDIsDeterministic(t *testing.T) {
	assert.Equal(t, pointID("doc_1_chunk_0").GetUuid(), pointID("doc_1_chunk_0").GetUuid())
	assert.NotEqual(t, pointID("doc_1_chunk_0").GetUuid(), pointID("doc_1_chunk_1").GetUuid())
}

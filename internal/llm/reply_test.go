package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func TestParseReply(t *testing.T) {
	t.Run("complete reply", func(t *testing.T) {
		got, err := ParseReply(`{"categoryId":"cat-114","categoryName":"会議費","confidence":0.85,"isBusiness":true,"reasoning":"カフェでの打ち合わせ"}`)
		require.NoError(t, err)
		assert.Equal(t, "会議費", got.CategoryName)
		assert.InDelta(t, 0.85, got.Confidence, 1e-9)
		assert.True(t, got.IsBusiness)
		assert.Equal(t, "カフェでの打ち合わせ", got.Reasoning)
		assert.Equal(t, model.SourceAI, got.Source)
		assert.Nil(t, got.CategoryID, "ids are resolved from the catalog")
	})

	t.Run("defaults applied", func(t *testing.T) {
		got, err := ParseReply(`{"categoryId":"cat-115","categoryName":"消耗品費"}`)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, got.Confidence, 1e-9)
		assert.False(t, got.IsBusiness)
		assert.Equal(t, "AI classification", got.Reasoning)
	})

	t.Run("confidence clamped", func(t *testing.T) {
		got, err := ParseReply(`{"categoryId":"x","categoryName":"y","confidence":7}`)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got.Confidence, 1e-9)

		got, err = ParseReply(`{"categoryId":"x","categoryName":"y","confidence":-2}`)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, got.Confidence, 1e-9)
	})

	t.Run("markdown fences stripped", func(t *testing.T) {
		got, err := ParseReply("```json\n{\"categoryId\":\"cat-110\",\"categoryName\":\"旅費交通費\",\"confidence\":0.9}\n```")
		require.NoError(t, err)
		assert.Equal(t, "旅費交通費", got.CategoryName)
	})

	t.Run("surrounding prose ignored", func(t *testing.T) {
		got, err := ParseReply("Here you go: {\"categoryId\":\"cat-111\",\"categoryName\":\"通信費\"} hope that helps")
		require.NoError(t, err)
		assert.Equal(t, "通信費", got.CategoryName)
	})
}

func TestParseReply_Failures(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  ReplyKind
		field string
		is    error
	}{
		{name: "not json", input: "I think it is travel", kind: ReplyMalformed, is: ErrMalformedReply},
		{name: "array", input: `["cat-114", "会議費"]`, kind: ReplyMalformed, is: ErrMalformedReply},
		{name: "broken json", input: `{"categoryId":`, kind: ReplyMalformed, is: ErrMalformedReply},
		{name: "wrong type", input: `{"categoryId":"a","categoryName":"b","confidence":"high"}`, kind: ReplyMalformed, is: ErrMalformedReply},
		{name: "missing id", input: `{"categoryName":"会議費"}`, kind: ReplyMissingField, field: "categoryId", is: ErrMissingField},
		{name: "blank name", input: `{"categoryId":"cat-114","categoryName":"  "}`, kind: ReplyMissingField, field: "categoryName", is: ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReply(tt.input)
			require.Error(t, err)

			var re *ReplyError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, tt.field, re.Field)
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

package core

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsKeepInsertionOrder(t *testing.T) {
	f := NewFields().Set("title", "A1").Set("author", "kim").Set("pages", 12)
	f.Set("title", "A2")

	assert.Equal(t, []string{"title", "author", "pages"}, f.Keys())
	v, ok := f.Get("title")
	require.True(t, ok)
	assert.Equal(t, "A2", v)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"A2","author":"kim","pages":12}`, string(data))
	assert.Equal(t, `{"title":"A2","author":"kim","pages":12}`, string(data))
}

func TestFieldsUnmarshalPreservesDocumentOrder(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":"x","m":{"k":true}}`), &f))

	assert.Equal(t, []string{"z", "a", "m"}, f.Keys())
	v, _ := f.Get("m")
	assert.Equal(t, map[string]interface{}{"k": true}, v)
}

func TestFieldsMergeAndDelete(t *testing.T) {
	base := NewFields().Set("a", 1).Set("b", 2)
	base.Merge(NewFields().Set("c", 3).Set("a", 10))

	assert.Equal(t, []string{"a", "b", "c"}, base.Keys())
	assert.Equal(t, map[string]interface{}{"a": 10, "b": 2, "c": 3}, base.Map())

	base.Delete("b")
	assert.Equal(t, []string{"a", "c"}, base.Keys())
	assert.Equal(t, 2, base.Len())
}

func TestNilFieldsBehaveAsEmpty(t *testing.T) {
	var f *Fields
	assert.Equal(t, 0, f.Len())
	_, ok := f.Get("x")
	assert.False(t, ok)
	assert.NotNil(t, f.Clone())
	assert.Empty(t, f.Map())
}

func TestFilterMatchesAcrossNumericTypes(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{"teacherId":7,"downloaded":true}`), &f))

	assert.True(t, MatchesAll(&f, []Filter{{Field: "teacherId", Value: 7}}))
	assert.True(t, MatchesAll(&f, []Filter{{Field: "downloaded", Value: true}}))
	assert.False(t, MatchesAll(&f, []Filter{{Field: "teacherId", Value: 8}}))
	assert.False(t, MatchesAll(&f, []Filter{{Field: "missing", Value: 1}}))
}

package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_MarshalJSON_PreservesInsertionOrder(t *testing.T) {
	// Given: keys set in a non-alphabetical order
	doc := NewDocument()
	doc.Set("invoice_number", "2024-0815")
	doc.Set("date", "2024-03-01")
	doc.Set("amount", 99.5)

	// When: marshaling
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	// Then: the order survives
	assert.Equal(t, `{"invoice_number":"2024-0815","date":"2024-03-01","amount":99.5}`, string(data))
}

func TestDocument_UnmarshalJSON_RoundTrip(t *testing.T) {
	// Given: JSON with a deliberate key order and nesting
	raw := `{"zebra":1,"alpha":{"inner_b":true,"inner_a":null},"items":[{"pos":1},{"pos":2}]}`

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	// Then: key order is the document order, not sorted
	assert.Equal(t, []string{"zebra", "alpha", "items"}, doc.Keys())

	// And: nested objects are Documents with their own order
	nested, ok := doc.Get("alpha")
	require.True(t, ok)
	nestedDoc, ok := nested.(*Document)
	require.True(t, ok)
	assert.Equal(t, []string{"inner_b", "inner_a"}, nestedDoc.Keys())

	// And: marshaling reproduces the original byte-for-byte
	out, err := json.Marshal(&doc)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
	assert.Equal(t, raw, string(out))
}

func TestDocument_Set_OverwriteKeepsPosition(t *testing.T) {
	doc := NewDocument()
	doc.Set("a", 1)
	doc.Set("b", 2)
	doc.Set("a", 3)

	assert.Equal(t, []string{"a", "b"}, doc.Keys())
	v, _ := doc.Get("a")
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, doc.Len())
}

func TestKeyOrderFromAnswer_CapturesTopAndItemKeys(t *testing.T) {
	// Given: an answer with header fields and a line-item table
	var doc Document
	raw := `{"vendor":"ACME","total":10,"positions":[{"sku":"X1","qty":2,"price":5},{"sku":"X2"}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	ko := KeyOrderFromAnswer(&doc)

	assert.Equal(t, []string{"vendor", "total", "positions"}, ko.TopKeys)
	// Item keys come from the first element of the first array of objects
	assert.Equal(t, []string{"sku", "qty", "price"}, ko.ItemKeys)
}

func TestKeyOrderFromAnswer_NilAnswer(t *testing.T) {
	ko := KeyOrderFromAnswer(nil)
	assert.Empty(t, ko.TopKeys)
	assert.Empty(t, ko.ItemKeys)
}

func TestCanonicalJSON_SortsKeysAtEveryLevel(t *testing.T) {
	// Given: two documents with identical content in different key order
	var a, b Document
	require.NoError(t, json.Unmarshal([]byte(`{"x":1,"y":{"q":2,"p":3}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"y":{"p":3,"q":2},"x":1}`), &b))

	ca, err := CanonicalJSON(&a)
	require.NoError(t, err)
	cb, err := CanonicalJSON(&b)
	require.NoError(t, err)

	// Then: the canonical forms agree
	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"x":1,"y":{"p":3,"q":2}}`, string(ca))
}

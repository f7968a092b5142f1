package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_SortsKeys(t *testing.T) {
	out, err := JSON(map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":{"y":null,"z":true}}`, string(out))
}

func TestJSON_EscapesNonASCII(t *testing.T) {
	out, err := JSON(map[string]string{"EURO": "€"})
	require.NoError(t, err)
	assert.Equal(t, `{"EURO":"\u20ac"}`, string(out))
}

func TestJSON_EscapesAstralPlaneAsSurrogatePair(t *testing.T) {
	out, err := JSON([]string{"😀"})
	require.NoError(t, err)
	assert.Equal(t, `["\ud83d\ude00"]`, string(out))
}

func TestJSON_EscapesQuotes(t *testing.T) {
	out, err := JSON(map[string]string{"test": `"quoted"`})
	require.NoError(t, err)
	assert.Equal(t, `{"test":"\"quoted\""}`, string(out))
}

func TestJSON_NoHTMLEscaping(t *testing.T) {
	out, err := JSON(map[string]string{"expr": "a<b && c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"expr":"a<b && c>d"}`, string(out))
}

func TestJSON_StructTags(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	}
	out, err := JSON(payload{Name: "test", ID: 7})
	require.NoError(t, err)
	assert.Equal(t, `{"id":7,"name":"test"}`, string(out))
}

func TestBytes_StripsWhitespace(t *testing.T) {
	out, err := Bytes([]byte("{ \"b\" : [1, 2],\n \"a\": \"x\" }"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":[1,2]}`, string(out))
}

func TestBytes_InvalidJSON(t *testing.T) {
	_, err := Bytes([]byte("{not json"))
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal([]byte(`{"a":1,"b":2}`), []byte(`{"b": 2, "a": 1}`)))
	assert.False(t, Equal([]byte(`{"a":1}`), []byte(`{"a":2}`)))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, []byte(`{}`)))
}

package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_ZeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, "null", v.MustJSON())
}

func TestValue_Accessors(t *testing.T) {
	n, ok := Number(42).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 42.0, n)

	_, ok = String("x").AsNumber()
	assert.False(t, ok)

	obj := Object(map[string]Value{"to": String("ops@example.com")})
	s, ok := obj.Field("to").AsString()
	assert.True(t, ok)
	assert.Equal(t, "ops@example.com", s)
	assert.True(t, obj.Field("missing").IsNull())
	assert.True(t, String("x").Field("to").IsNull())
}

func TestValue_ObjectKeysSorted(t *testing.T) {
	v := Object(map[string]Value{
		"b": Number(2),
		"a": Array(Bool(true), Null()),
	})
	assert.Equal(t, `{"a":[true,null],"b":2}`, v.MustJSON())
}

func TestParseValue_Nested(t *testing.T) {
	v, err := ParseValue([]byte(`{"report":"weekly","recipients":["a","b"],"retries":3,"dry":false,"extra":null}`))
	require.NoError(t, err)
	require.Equal(t, KindObject, v.Kind())

	items, ok := v.Field("recipients").AsArray()
	require.True(t, ok)
	assert.Len(t, items, 2)

	retries, _ := v.Field("retries").AsNumber()
	assert.Equal(t, 3.0, retries)

	dry, ok := v.Field("dry").AsBool()
	assert.True(t, ok)
	assert.False(t, dry)
	assert.True(t, v.Field("extra").IsNull())
}

func TestParseValue_Invalid(t *testing.T) {
	_, err := ParseValue([]byte(`{"unterminated"`))
	assert.Error(t, err)
}

func TestObject_CopiesInput(t *testing.T) {
	fields := map[string]Value{"k": Number(1)}
	v := Object(fields)
	fields["k"] = Number(2)

	n, _ := v.Field("k").AsNumber()
	assert.Equal(t, 1.0, n)
}

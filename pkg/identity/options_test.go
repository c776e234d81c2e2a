package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptions_Canonical_SortsKeys(t *testing.T) {
	a := NewOptions(map[string]Value{
		"zeta":  StringValue("z"),
		"alpha": StringValue("a"),
	})
	b := NewOptions(map[string]Value{
		"alpha": StringValue("a"),
		"zeta":  StringValue("z"),
	})
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, "{alpha=a,zeta=z}", a.Canonical())
}

func TestOptions_Canonical_Empty(t *testing.T) {
	assert.Equal(t, "", NewOptions(nil).Canonical())
	assert.Equal(t, "", (*Options)(nil).Canonical())
}

func TestValue_Canonical_Nested(t *testing.T) {
	v := ListValue([]Value{IntValue(1), IntValue(2), BoolValue(true)})
	assert.Equal(t, "[1,2,true]", v.Canonical())

	nested := MapValue(NewOptions(map[string]Value{"k": StringValue("v")}))
	assert.Equal(t, "{k=v}", nested.Canonical())
}

func TestCanonicalKey_IndependentOfInsertionOrder(t *testing.T) {
	id := Identity{Namespace: "envy", Name: "cmake", Revision: "3.28.0"}
	a := NewOptions(map[string]Value{"b": IntValue(2), "a": IntValue(1)})
	b := NewOptions(map[string]Value{"a": IntValue(1), "b": IntValue(2)})
	assert.Equal(t, CanonicalKey(id, a), CanonicalKey(id, b))
	assert.Equal(t, "envy.cmake@3.28.0{a=1,b=2}", CanonicalKey(id, a))
}

func TestOptions_Get(t *testing.T) {
	o := NewOptions(map[string]Value{"k": StringValue("v")})
	v, ok := o.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v.Canonical())

	_, ok = o.Get("missing")
	assert.False(t, ok)
}

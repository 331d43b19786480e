package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type light string
type who string

func TestMachineCheck(t *testing.T) {
	m := New([]Edge[light, who]{
		{From: "red", To: "green", Role: "controller"},
		{From: "green", To: "off", Role: "operator"},
	}, "off")

	assert.NoError(t, m.Check("red", "green", "controller"))
	assert.ErrorIs(t, m.Check("red", "green", "operator"), ErrWrongRole)
	assert.ErrorIs(t, m.Check("red", "off", "operator"), ErrNoEdge)
	assert.ErrorIs(t, m.Check("off", "red", "controller"), ErrTerminal)

	assert.ElementsMatch(t, []light{"green"}, m.Allowed("red", "controller"))
	assert.Empty(t, m.Allowed("off", "operator"))
}

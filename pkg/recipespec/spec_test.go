package recipespec

import (
	"testing"

	"github.com/charlesnicholson/envy/pkg/identity"
	"github.com/stretchr/testify/assert"
)

func TestPhase_Ordinal_FixesLinearOrder(t *testing.T) {
	order := []Phase{
		PhaseRecipeFetch, PhaseCheck, PhaseFetch, PhaseStage,
		PhaseBuild, PhaseInstall, PhaseDeploy, PhaseCompletion,
	}
	for i, p := range order {
		assert.Equal(t, i, p.Ordinal())
		assert.True(t, p.Valid())
	}
	assert.False(t, Phase("bogus").Valid())
	assert.Equal(t, -1, Phase("bogus").Ordinal())
}

func TestDefaultNeededBy_IsFetch(t *testing.T) {
	assert.Equal(t, PhaseFetch, DefaultNeededBy)
}

func TestSpec_CanonicalKey_DelegatesToIdentity(t *testing.T) {
	pool := NewPool()
	s := pool.New(Spec{
		ID:      identity.Identity{Namespace: "envy", Name: "cmake", Revision: "3.28.0"},
		Options: identity.NewOptions(nil),
	})
	assert.Equal(t, "envy.cmake@3.28.0", s.CanonicalKey())
}

package identity

import (
	"testing"

	"github.com/charlesnicholson/envy/pkg/envyerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_String(t *testing.T) {
	id := Identity{Namespace: "envy", Name: "cmake", Revision: "3.28.0"}
	assert.Equal(t, "envy.cmake@3.28.0", id.String())
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		allowPartial bool
		want        Query
		wantErr     bool
	}{
		{name: "bare name", in: "cmake", allowPartial: true, want: Query{Name: "cmake"}},
		{name: "namespaced", in: "envy.cmake", allowPartial: true, want: Query{Namespace: "envy", Name: "cmake"}},
		{name: "revisioned", in: "cmake@3.28.0", allowPartial: true, want: Query{Name: "cmake", Revision: "3.28.0"}},
		{name: "full", in: "envy.cmake@3.28.0", allowPartial: true, want: Query{Namespace: "envy", Name: "cmake", Revision: "3.28.0"}},
		{name: "empty", in: "", allowPartial: true, wantErr: true},
		{name: "empty revision", in: "cmake@", allowPartial: true, wantErr: true},
		{name: "name with dot", in: "envy.cm.ake", allowPartial: true, wantErr: true},
		{name: "missing namespace strict", in: "cmake@3.28.0", allowPartial: false, wantErr: true},
		{name: "invalid segment", in: "envy.cm ake@3.28.0", allowPartial: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentity(tt.in, tt.allowPartial)
			if tt.wantErr {
				require.Error(t, err)
				var e *envyerrors.Error
				require.ErrorAs(t, err, &e)
				assert.Equal(t, envyerrors.KindParseError, e.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFullIdentity(t *testing.T) {
	id, err := ParseFullIdentity("envy.cmake@3.28.0")
	require.NoError(t, err)
	assert.Equal(t, Identity{Namespace: "envy", Name: "cmake", Revision: "3.28.0"}, id)

	_, err = ParseFullIdentity("cmake")
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	candidate := Identity{Namespace: "envy", Name: "cmake", Revision: "3.28.0"}
	tests := []struct {
		name  string
		query Query
		want  bool
	}{
		{name: "wildcard all", query: Query{}, want: true},
		{name: "name only match", query: Query{Name: "cmake"}, want: true},
		{name: "name mismatch", query: Query{Name: "ninja"}, want: false},
		{name: "full match", query: Query{Namespace: "envy", Name: "cmake", Revision: "3.28.0"}, want: true},
		{name: "revision mismatch", query: Query{Name: "cmake", Revision: "3.0.0"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.query, candidate))
		})
	}
}

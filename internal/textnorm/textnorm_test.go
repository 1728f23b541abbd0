package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Opus One", "opus one"},
		{"  OPUS\tONE \n", "opus one"},
		{"Château Margaux", "chateau margaux"},
		{"Domaine de la Romanée-Conti", "domaine de la romanee conti"},
		{"Ravenswood's Zin!", "ravenswoods zin"},
		{"CAYMUS  (2019)", "caymus 2019"},
		{"***", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestKeyMatchesNormalize(t *testing.T) {
	for _, s := range []string{"Opus One", "opus one", "OPUS ONE", " opus   one "} {
		assert.Equal(t, "opus one", Key(s))
	}
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"silver", "oak", "cabernet"}, Tokens("Silver Oak - Cabernet"))
	assert.Empty(t, Tokens("  "))
}

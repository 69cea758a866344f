package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		query string
		want  Intent
	}{
		{`"authentication bypass"`, IntentExact},
		{"check_token implementation", IntentExact},
		{"db.Query( usage", IntentExact},
		{"parseConfig behavior", IntentExact},
		{"authentication flow", IntentSemantic},
		{"token validation logic", IntentSemantic},
		{"how does the login endpoint verify credentials?", IntentExploratory},
		{"why is session handling considered risky", IntentExploratory},
		{"overview of the storage layer design and lifecycle of all persisted entities in this system", IntentExploratory},
		{"", IntentSemantic},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyIntent(tc.query), "query: %q", tc.query)
	}
}

func TestThresholdFor(t *testing.T) {
	assert.Equal(t, 0.8, thresholdFor(IntentExact, 0.8, 0.65, 0.5))
	assert.Equal(t, 0.65, thresholdFor(IntentSemantic, 0.8, 0.65, 0.5))
	assert.Equal(t, 0.5, thresholdFor(IntentExploratory, 0.8, 0.65, 0.5))
}

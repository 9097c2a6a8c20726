package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	defs := c.Definitions()
	require.Len(t, defs, 4)

	for _, d := range defs {
		initials := 0
		for _, s := range d.Statuses() {
			if s.IsInitial {
				initials++
			}
		}
		assert.Equal(t, 1, initials, "workflow %s", d.Code)
	}

	lifecycle, err := c.ByCode("RUN_LIFECYCLE")
	require.NoError(t, err)
	assert.Equal(t, ScopeRunLifecycle, lifecycle.Scope)
	assert.Equal(t, "QUEUED", lifecycle.InitialStatus().Code)
}

func TestCatalog_UnknownType(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	_, err = c.Get(42)
	assert.True(t, errors.Is(err, ErrUnknownWorkflowType))

	_, err = c.ByCode("NOPE")
	assert.True(t, errors.Is(err, ErrUnknownWorkflowType))
}

func TestLoadCatalog_RejectsSharedStatusIDs(t *testing.T) {
	doc := `
workflows:
  - id: 1
    code: A
    scope: ORDER
    statuses:
      - { id: 10, code: START, initial: true }
  - id: 2
    code: B
    scope: ORDER_PROCESS
    statuses:
      - { id: 10, code: START, initial: true }
`
	_, err := LoadCatalog(strings.NewReader(doc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDefinition))
}

func TestLoadCatalog_RejectsUnknownFields(t *testing.T) {
	doc := `
workflows:
  - id: 1
    code: A
    scope: ORDER
    guard: always
    statuses:
      - { id: 10, code: START, initial: true }
`
	_, err := LoadCatalog(strings.NewReader(doc))
	assert.Error(t, err)
}

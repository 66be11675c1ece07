package scheduler

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noteearly/noteearly/core"
	testutil "github.com/noteearly/noteearly/tests"
)

type expirerMock struct {
	calls int
	err   error
}

func (m *expirerMock) ExpireLapsed(context.Context) (int, error) {
	m.calls++
	return 2, m.err
}

func TestNew(t *testing.T) {
	conf := core.NewTestConfig()
	logger := testutil.NewLogger(t, conf)

	s, err := New(conf, &expirerMock{}, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Entries())

	conf.Jobs.ExpireSubscriptionsSpec = ""
	s, err = New(conf, &expirerMock{}, logger)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Entries())

	conf.Jobs.ExpireSubscriptionsSpec = "every now and then"
	_, err = New(conf, &expirerMock{}, logger)
	assert.Error(t, err)
}

func TestScheduler_Job(t *testing.T) {
	conf := core.NewTestConfig()
	s, err := New(conf, &expirerMock{}, testutil.NewLogger(t, conf))
	require.NoError(t, err)

	m := &expirerMock{}
	s.job("expire-subscriptions", m.ExpireLapsed)()
	assert.Equal(t, 1, m.calls)

	// errors are logged, not propagated
	m.err = errors.New("db down")
	assert.NotPanics(t, s.job("expire-subscriptions", m.ExpireLapsed))
	assert.Equal(t, 2, m.calls)

	s.Start()
	s.Stop()
}

package bootstrap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/musicx/musicx-backend/pkg/logger"
)

func TestCloseRunsInReverseAndCombinesErrors(t *testing.T) {
	env := &Env{Logger: logger.Nop()}
	var order []string
	env.onClose("database", func() error {
		order = append(order, "database")
		return errors.New("pool busy")
	})
	env.onClose("redis", func() error {
		order = append(order, "redis")
		return nil
	})
	env.onClose("pubsub", func() error {
		order = append(order, "pubsub")
		return errors.New("flush timeout")
	})

	err := env.Close()
	require.Equal(t, []string{"pubsub", "redis", "database"}, order)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorContains(t, err, "close database: pool busy")
	require.ErrorContains(t, err, "close pubsub: flush timeout")

	require.NoError(t, env.Close(), "closers run once")
}

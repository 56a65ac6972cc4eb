package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotifierSubscribeAndUnsubscribe(t *testing.T) {
	t.Parallel()

	n := NewNotifier(nil)
	var first, second []string
	unsubscribe := n.Subscribe(func(a Activation) { first = append(first, a.ConfigCode) })
	n.Subscribe(func(a Activation) { second = append(second, a.ConfigCode) })
	require.Equal(t, 2, n.Len())

	n.Publish(Activation{ConfigCode: "a"})
	unsubscribe()
	unsubscribe()
	require.Equal(t, 1, n.Len())
	n.Publish(Activation{ConfigCode: "b"})

	require.Equal(t, []string{"a"}, first)
	require.Equal(t, []string{"a", "b"}, second)
}

func TestNotifierIsolatesPanickingListener(t *testing.T) {
	t.Parallel()

	n := NewNotifier(nil)
	var delivered int
	n.Subscribe(func(Activation) { panic("boom") })
	n.Subscribe(func(Activation) { delivered++ })

	require.NotPanics(t, func() { n.Publish(Activation{ConfigCode: "a"}) })
	require.Equal(t, 1, delivered)
}

func TestNilNotifierIsInert(t *testing.T) {
	t.Parallel()

	var n *Notifier
	unsubscribe := n.Subscribe(func(Activation) {})
	unsubscribe()
	n.Publish(Activation{})
	require.Zero(t, n.Len())
}

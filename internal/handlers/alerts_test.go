package handlers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertLog(t *testing.T) {
	t.Run("keeps the newest alerts", func(t *testing.T) {
		l := NewAlertLog(3)
		for i := 1; i <= 5; i++ {
			l.Alert("Title", fmt.Sprintf("message %d", i))
		}

		all := l.Since(0)
		require.Len(t, all, 3)
		assert.Equal(t, "message 3", all[0].Message)
		assert.Equal(t, uint64(5), all[2].Seq)
		assert.Equal(t, uint64(5), l.Seq())
	})

	t.Run("since filters by sequence", func(t *testing.T) {
		l := NewAlertLog(0)
		l.Alert("A", "a")
		seq := l.Seq()
		l.Alert("B", "b")

		newer := l.Since(seq)
		require.Len(t, newer, 1)
		assert.Equal(t, "B", newer[0].Title)
		assert.Empty(t, l.Since(l.Seq()))
	})
}

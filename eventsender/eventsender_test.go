package eventsender

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDP_NotConfiguredIsNoop(t *testing.T) {
	u, err := Dial("")
	require.NoError(t, err)
	require.NotPanics(t, func() {
		u.Send("Client:1", "client-connected", "127.0.0.1:1", "127.0.0.1:2")
	})
}

func TestLogger_ReceivesAndRotatesLogFile(t *testing.T) {
	dir := t.TempDir()
	pattern := dir + "/events-test.log"

	logger, err := StartLogger("127.0.0.1:0", pattern)
	require.NoError(t, err)
	defer logger.Close()

	sender, err := Dial(logger.conn.LocalAddr().String())
	require.NoError(t, err)

	sender.Send("Client:42", "client-connected", "1.2.3.4:5", "0.0.0.0:7198")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logger.file.Name())
		return err == nil && len(data) > 0
	}, time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(logger.file.Name())
	require.NoError(t, err)
	require.Contains(t, string(data), "client-connected")
	require.Contains(t, string(data), "Client:42")
}

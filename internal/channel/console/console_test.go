package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/cmdbot/internal/config"
	"github.com/soyeahso/cmdbot/internal/domain"
	"github.com/soyeahso/cmdbot/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

type collector struct {
	mu   sync.Mutex
	invs []domain.Invocation
}

func (c *collector) handle(inv domain.Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invs = append(c.invs, inv)
}

func (c *collector) snapshot() []domain.Invocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Invocation(nil), c.invs...)
}

func TestStart_ParsesLines(t *testing.T) {
	in := strings.NewReader("!status\nexecute uptime -p\n\n# comment\n!\nHELP\n")
	ch := New(config.ConsoleConfig{Sender: "root"}, "!", in, io.Discard, testLogger())
	col := &collector{}
	ch.OnCommand(col.handle)

	require.NoError(t, ch.Start(context.Background()))

	got := col.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "status", got[0].Command)
	assert.Equal(t, "execute", got[1].Command)
	assert.Equal(t, []string{"uptime", "-p"}, got[1].Args)
	assert.Equal(t, "help", got[2].Command)
	for _, inv := range got {
		assert.NotEmpty(t, inv.ID)
		assert.Equal(t, "console", inv.ChannelID)
		assert.Equal(t, "root", inv.SenderID)
		assert.Equal(t, domain.ChatKindPrivate, inv.ChatKind)
		assert.False(t, inv.Timestamp.IsZero())
	}
	assert.False(t, ch.Status().Running)
}

func TestDefaultSender(t *testing.T) {
	ch := New(config.ConsoleConfig{}, "!", strings.NewReader("status\n"), io.Discard, testLogger())
	col := &collector{}
	ch.OnCommand(col.handle)
	require.NoError(t, ch.Start(context.Background()))

	require.Len(t, col.snapshot(), 1)
	assert.Equal(t, DefaultSender, col.snapshot()[0].SenderID)
}

func TestStart_Cancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ch := New(config.ConsoleConfig{}, "!", pr, io.Discard, testLogger())
	col := &collector{}
	ch.OnCommand(col.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Start(ctx) }()

	_, err := io.WriteString(pw, "!status\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(col.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, ch.Status().Running)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	// Unblock the abandoned reader.
	pw.Close()
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("tty gone") }

func TestStart_ReadError(t *testing.T) {
	ch := New(config.ConsoleConfig{}, "!", failingReader{}, io.Discard, testLogger())
	err := ch.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tty gone")
	assert.Equal(t, "tty gone", ch.Status().LastError)
}

func TestSend(t *testing.T) {
	var out bytes.Buffer
	ch := New(config.ConsoleConfig{}, "!", strings.NewReader(""), &out, testLogger())

	require.NoError(t, ch.Send(context.Background(), domain.OutboundMessage{Body: "line one\nline two\n"}))
	require.NoError(t, ch.Send(context.Background(), domain.OutboundMessage{Body: "done"}))
	assert.Equal(t, "line one\nline two\ndone\n", out.String())
}

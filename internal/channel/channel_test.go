package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/status"
)

func testThread(t *testing.T) *sched.Thread {
	t.Helper()
	s := sched.New(1, nil)
	th := s.ThreadNew(func(*sched.Thread) {})
	require.NoError(t, s.SchedManage(th))
	return th
}

func TestSendReceiveRoundTrip(t *testing.T) {
	a, b := NewPair(4)
	th := testThread(t)

	msg := NewMessage([]byte("hello"))
	require.NoError(t, a.Send(th, msg, Blocking, true))
	require.NotZero(t, msg.ConversationID)

	got, err := b.Receive(th, Blocking)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got.Body))
	require.Equal(t, msg.ConversationID, got.ConversationID)
}

func TestSendNonBlockingWouldBlockWhenFull(t *testing.T) {
	a, b := NewPair(1)
	th := testThread(t)

	require.NoError(t, a.Send(th, NewMessage([]byte("1")), Blocking, true))
	err := a.Send(th, NewMessage([]byte("2")), NonBlocking, true)
	require.True(t, status.Is(err, status.WouldBlock))

	_, err = b.Receive(th, Blocking)
	require.NoError(t, err)
}

func TestReceiveBlocksUntilSend(t *testing.T) {
	a, b := NewPair(4)
	th := testThread(t)

	done := make(chan *Message, 1)
	go func() {
		msg, err := b.Receive(th, Blocking)
		require.NoError(t, err)
		done <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Send(th, NewMessage([]byte("late")), Blocking, true))

	select {
	case msg := <-done:
		require.Equal(t, "late", string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("receive never unblocked")
	}
}

func TestSendAfterPeerCloseFails(t *testing.T) {
	a, b := NewPair(4)
	th := testThread(t)

	require.NoError(t, b.Close())
	err := a.Send(th, NewMessage([]byte("x")), Blocking, true)
	require.True(t, status.Is(err, status.Closed))
}

func TestSendReturnsReservedSlotOnClosedPeer(t *testing.T) {
	a, b := NewPair(1)
	th := testThread(t)
	require.NoError(t, b.Close())

	err := a.Send(th, NewMessage([]byte("x")), NonBlocking, true)
	require.True(t, status.Is(err, status.Closed))

	// The slot reserved by the failed send must have been returned, so
	// a second attempt also observes Closed rather than WouldBlock.
	err = a.Send(th, NewMessage([]byte("y")), NonBlocking, true)
	require.True(t, status.Is(err, status.Closed))
}

func TestPeekDoesNotConsume(t *testing.T) {
	a, b := NewPair(4)
	th := testThread(t)
	require.NoError(t, a.Send(th, NewMessage([]byte("peekme")), Blocking, true))

	msg, ok := b.Peek()
	require.True(t, ok)
	require.Equal(t, "peekme", string(msg.Body))

	got, err := b.Receive(th, Blocking)
	require.NoError(t, err)
	require.Equal(t, "peekme", string(got.Body))
}

func TestMessageArrivalWaitqueueFires(t *testing.T) {
	a, b := NewPair(4)
	th := testThread(t)

	fired := make(chan struct{}, 1)
	w, woken := sched.NewWaiter()
	b.MessageArrivalQueue().Wait(w)
	go func() {
		<-woken
		fired <- struct{}{}
	}()

	require.NoError(t, a.Send(th, NewMessage([]byte("ping")), Blocking, true))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("message arrival waiter never fired")
	}
}

func TestServerConnectAccept(t *testing.T) {
	srv := NewServer(4, 4)
	th := testThread(t)

	client, err := srv.Connect()
	require.NoError(t, err)

	server, err := srv.Accept(th, Blocking)
	require.NoError(t, err)

	require.NoError(t, server.Send(th, NewMessage([]byte("hi")), Blocking, true))
	got, err := client.Receive(th, Blocking)
	require.NoError(t, err)
	require.Equal(t, "hi", string(got.Body))
}

func TestChannelAttachmentTransfersOwnership(t *testing.T) {
	a, b := NewPair(4)
	th := testThread(t)

	innerA, innerB := NewPair(2)
	msg := NewMessage([]byte("carrier"), Attachment{Kind: AttachChannel, Channel: innerB})
	require.NoError(t, a.Send(th, msg, Blocking, true))

	got, err := b.Receive(th, Blocking)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	require.Equal(t, AttachChannel, got.Attachments[0].Kind)

	receivedInner := got.Attachments[0].Channel
	require.NoError(t, receivedInner.Send(th, NewMessage([]byte("via inner")), Blocking, true))
	innerMsg, err := innerA.Receive(th, Blocking)
	require.NoError(t, err)
	require.Equal(t, "via inner", string(innerMsg.Body))
}

package async

import (
	"errors"
	"testing"
)

func Test_Mailbox(t *testing.T) {
	mailbox := NewMailbox()

	cbInvoked := false
	var retErr error

	asyncErr := mailbox.NewAsyncError(func(err error) {
		retErr = err
		cbInvoked = true
	})

	go func(rsp *AsyncError) {
		rsp.SetValue(errors.New("submit refused"))
	}(asyncErr)

	for !cbInvoked {
		mailbox.ProcessMessages()
	}
	if retErr == nil || retErr.Error() != "submit refused" {
		t.Errorf("expected callback with `submit refused`, got %v", retErr)
	}
	if mailbox.Count() != 0 {
		t.Errorf("expected empty mailbox, got %d messages", mailbox.Count())
	}
}

func Test_MailboxKeepsMessagesAddedByCallbacks(t *testing.T) {
	mailbox := NewMailbox()

	secondInvoked := false
	first := mailbox.NewAsyncError(func(err error) {
		second := mailbox.NewAsyncError(func(err error) {
			secondInvoked = true
		})
		second.SetValue(nil)
	})
	first.SetValue(nil)

	mailbox.ProcessMessages()
	if secondInvoked {
		t.Fatal("callback registered during processing ran in the same pass")
	}
	if mailbox.Count() != 1 {
		t.Fatalf("expected 1 pending message, got %d", mailbox.Count())
	}
	mailbox.ProcessMessages()
	if !secondInvoked {
		t.Error("expected second callback on the next pass")
	}
}

func Test_MailboxLeavesIncomplete(t *testing.T) {
	mailbox := NewMailbox()
	invoked := 0
	done := mailbox.NewAsyncError(func(error) { invoked++ })
	mailbox.NewAsyncError(func(error) { invoked++ })
	done.SetValue(nil)

	mailbox.ProcessMessages()
	if invoked != 1 || mailbox.Count() != 1 {
		t.Errorf("expected 1 callback and 1 pending, got %d and %d", invoked, mailbox.Count())
	}
}

func Test_AsyncErrorTryGetValue(t *testing.T) {
	e := newAsyncError()
	if ok, _ := e.TryGetValue(); ok {
		t.Fatal("expected incomplete value")
	}
	e.SetValue(errors.New("lost"))
	for i := 0; i < 2; i++ {
		ok, err := e.TryGetValue()
		if !ok || err == nil || err.Error() != "lost" {
			t.Errorf("read %d: expected completed `lost`, got %v %v", i, ok, err)
		}
	}
}

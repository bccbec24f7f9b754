package async

// Mailbox stores AsyncErrors and their callbacks and invokes each callback
// once its AsyncError completes.
//
// Goroutines spawned from an event loop have no way to return a response;
// a Mailbox lets the loop learn each result and act on it from its own
// goroutine:
//
//	bx := NewMailbox()
//	go func(rsp *AsyncError) {
//	  rsp.SetValue(kill(handle))
//	}(bx.NewAsyncError(func(err error) { node.killed(err) }))
//	...
//	bx.ProcessMessages() // in the loop
//
// A Mailbox is not a concurrent structure and must only be accessed from a
// single goroutine, so callbacks always execute one at a time in the same
// context.
type Mailbox struct {
	msgs []message
}

// The function type of the callback invoked when an AsyncError is Completed
type AsyncErrorResponseHandler func(error)

type message struct {
	Err      *AsyncError
	callback AsyncErrorResponseHandler
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		msgs: make([]message, 0),
	}
}

func (bx *Mailbox) Count() int {
	return len(bx.msgs)
}

// NewAsyncError creates an AsyncError and associates cb with it. cb is invoked
// by the first ProcessMessages call after the AsyncError's value is set.
func (bx *Mailbox) NewAsyncError(cb AsyncErrorResponseHandler) *AsyncError {
	msg := message{Err: newAsyncError(), callback: cb}
	bx.msgs = append(bx.msgs, msg)
	return msg.Err
}

// ProcessMessages invokes the callback of every completed message and removes
// it from the mailbox. Callbacks may register new messages; those are kept
// and examined on the next call.
func (bx *Mailbox) ProcessMessages() {
	msgs := bx.msgs
	bx.msgs = nil
	var pending []message
	for _, msg := range msgs {
		if ok, err := msg.Err.TryGetValue(); ok {
			msg.callback(err)
		} else {
			pending = append(pending, msg)
		}
	}
	bx.msgs = append(pending, bx.msgs...)
}
